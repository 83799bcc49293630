package domain

import (
	"time"

	"github.com/google/uuid"
)

// Wallet holds one user's prepaid cash balance in integer cents. The balance
// is mutated only together with a WalletTransaction row, inside one DB
// transaction.
type Wallet struct {
	ID           uuid.UUID `gorm:"type:uuid;primaryKey" json:"id"`
	UserID       uuid.UUID `gorm:"type:uuid;not null;uniqueIndex" json:"user_id"`
	BalanceCents int64     `gorm:"column:balance_cents;not null;default:0" json:"balance_cents"`
	Currency     string    `gorm:"column:currency;not null;default:'USD'" json:"currency"`
	CreatedAt    time.Time `gorm:"not null" json:"created_at"`
	UpdatedAt    time.Time `gorm:"not null" json:"updated_at"`
}

func (Wallet) TableName() string { return "wallet" }

type WalletTransactionType string

const (
	WalletTxDeposit WalletTransactionType = "deposit"
	WalletTxDebit   WalletTransactionType = "debit"
	WalletTxRefund  WalletTransactionType = "refund"
)

// WalletTransaction is an immutable ledger entry. JobID links debits and
// refunds to the job they settle so repeated settlement attempts can detect
// prior work.
type WalletTransaction struct {
	ID          uuid.UUID             `gorm:"type:uuid;primaryKey" json:"id"`
	UserID      uuid.UUID             `gorm:"type:uuid;not null;index" json:"user_id"`
	Type        WalletTransactionType `gorm:"column:type;not null;index" json:"type"`
	AmountCents int64                 `gorm:"column:amount_cents;not null" json:"amount_cents"`
	JobID       *uuid.UUID            `gorm:"type:uuid;column:job_id;index" json:"job_id,omitempty"`
	Reference   string                `gorm:"column:reference" json:"reference,omitempty"`
	CreatedAt   time.Time             `gorm:"not null;index" json:"created_at"`
}

func (WalletTransaction) TableName() string { return "wallet_transaction" }

// SubscriptionPackage is a purchased or granted quota bundle. Remaining
// counters are decremented via conditional updates; the row identity never
// changes.
type SubscriptionPackage struct {
	ID               uuid.UUID `gorm:"type:uuid;primaryKey" json:"id"`
	UserID           uuid.UUID `gorm:"type:uuid;not null;index" json:"user_id"`
	RemainingMinutes int       `gorm:"column:remaining_minutes;not null;default:0" json:"remaining_minutes"`
	RemainingVideos  int       `gorm:"column:remaining_videos;not null;default:0" json:"remaining_videos"`
	ExpiresAt        time.Time `gorm:"column:expires_at;not null;index" json:"expires_at"`
	CreatedAt        time.Time `gorm:"not null;index" json:"created_at"`
	UpdatedAt        time.Time `gorm:"not null" json:"updated_at"`
}

func (SubscriptionPackage) TableName() string { return "subscription_package" }

// UsageRecord accumulates free-tier consumption, one row per user per
// calendar day. Day is stored as "2006-01-02" so the (user, day) pair stays
// unique across drivers.
type UsageRecord struct {
	ID          uuid.UUID `gorm:"type:uuid;primaryKey" json:"id"`
	UserID      uuid.UUID `gorm:"type:uuid;not null;uniqueIndex:idx_usage_user_day" json:"user_id"`
	Day         string    `gorm:"column:day;not null;uniqueIndex:idx_usage_user_day" json:"day"`
	MinutesUsed int       `gorm:"column:minutes_used;not null;default:0" json:"minutes_used"`
	VideosUsed  int       `gorm:"column:videos_used;not null;default:0" json:"videos_used"`
	CreatedAt   time.Time `gorm:"not null" json:"created_at"`
	UpdatedAt   time.Time `gorm:"not null" json:"updated_at"`
}

func (UsageRecord) TableName() string { return "usage_record" }

// UsageDay formats t for UsageRecord.Day.
func UsageDay(t time.Time) string { return t.UTC().Format("2006-01-02") }

type PaymentStatus string

const (
	PaymentStatusPending   PaymentStatus = "pending"
	PaymentStatusSucceeded PaymentStatus = "succeeded"
	PaymentStatusFailed    PaymentStatus = "failed"
)

// PaymentOperation tracks a gateway deposit from registration to webhook
// confirmation. The operation id doubles as the idempotency key for the
// resulting wallet deposit.
type PaymentOperation struct {
	ID          uuid.UUID     `gorm:"type:uuid;primaryKey" json:"id"`
	UserID      uuid.UUID     `gorm:"type:uuid;not null;index" json:"user_id"`
	AmountCents int64         `gorm:"column:amount_cents;not null" json:"amount_cents"`
	Currency    string        `gorm:"column:currency;not null" json:"currency"`
	Status      PaymentStatus `gorm:"column:status;not null;index" json:"status"`
	PaymentURL  string        `gorm:"column:payment_url" json:"payment_url,omitempty"`
	CreatedAt   time.Time     `gorm:"not null" json:"created_at"`
	UpdatedAt   time.Time     `gorm:"not null" json:"updated_at"`
}

func (PaymentOperation) TableName() string { return "payment_operation" }
