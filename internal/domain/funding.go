package domain

import "github.com/google/uuid"

// FundingSource names the quota mechanism paying for a job.
type FundingSource string

const (
	FundingFree    FundingSource = "free"
	FundingPackage FundingSource = "package"
	FundingWallet  FundingSource = "wallet"
)

// FundingDecision is the outcome of quota authorization. On Allowed the
// reservation has already been applied in the same transaction that creates
// the job row; Denied reserves nothing.
type FundingDecision struct {
	Allowed bool `json:"allowed"`

	Source          FundingSource `json:"source,omitempty"`
	PackageID       *uuid.UUID    `json:"package_id,omitempty"`
	ReservedMinutes int           `json:"reserved_minutes,omitempty"`
	ReservedVideos  int           `json:"reserved_videos,omitempty"`
	ReservedCents   int64         `json:"reserved_cents,omitempty"`

	// RemainingQuota is the chosen source's remaining headroom after the
	// reservation (minutes or videos depending on the job kind; for wallet
	// funding, the number of further units the balance could still buy).
	RemainingQuota int64 `json:"remaining_quota"`

	Message    string `json:"message,omitempty"`
	PaymentURL string `json:"payment_url,omitempty"`
}

// ConsumesVideos reports which quota dimension a job kind draws from.
// Caption jobs consume whole videos; transcription jobs consume minutes.
func (k JobKind) ConsumesVideos() bool { return k == JobKindYoutubeCaption }
