package payments

import (
	"context"
	"fmt"
	"strconv"

	"github.com/stripe/stripe-go/v72"
	"github.com/stripe/stripe-go/v72/client"

	"llm_fanout/internal/apperr"
)

// MaxQuantity bounds a single checkout
const MaxQuantity = 100

// SessionCreator creates Stripe Checkout sessions
type SessionCreator interface {
	New(params *stripe.CheckoutSessionParams) (*stripe.CheckoutSession, error)
}

// NewStripeSessions returns the checkout session client for the secret key
func NewStripeSessions(secretKey string) SessionCreator {
	sc := &client.API{}
	sc.Init(secretKey, nil)
	return sc.CheckoutSessions
}

// CheckoutConfig holds the redirect URLs shown after checkout
type CheckoutConfig struct {
	SuccessURL string
	CancelURL  string
}

// CheckoutSession is what the client needs to redirect the user
type CheckoutSession struct {
	ID  string `json:"id"`
	URL string `json:"url"`
}

// CheckoutService starts token purchases
type CheckoutService struct {
	sessions SessionCreator
	prices   PriceTable
	cfg      CheckoutConfig
}

func NewCheckoutService(sessions SessionCreator, prices PriceTable, cfg CheckoutConfig) *CheckoutService {
	return &CheckoutService{sessions: sessions, prices: prices, cfg: cfg}
}

// CreateSession creates a payment-mode session whose metadata lets the
// webhook credit the right user.
func (s *CheckoutService) CreateSession(ctx context.Context, userID, priceID string, quantity int64) (*CheckoutSession, error) {
	if userID == "" {
		return nil, apperr.ErrUnauthorized
	}
	if quantity < 1 || quantity > MaxQuantity {
		return nil, fmt.Errorf("%w: quantity must be between 1 and %d", apperr.ErrInvalidRequest, MaxQuantity)
	}
	if _, ok := s.prices.Tokens(priceID, quantity); !ok {
		return nil, fmt.Errorf("%w: unknown price %q", apperr.ErrInvalidRequest, priceID)
	}

	params := &stripe.CheckoutSessionParams{
		Mode: stripe.String(string(stripe.CheckoutSessionModePayment)),
		LineItems: []*stripe.CheckoutSessionLineItemParams{
			{
				Price:    stripe.String(priceID),
				Quantity: stripe.Int64(quantity),
			},
		},
		SuccessURL:        stripe.String(s.cfg.SuccessURL),
		CancelURL:         stripe.String(s.cfg.CancelURL),
		ClientReferenceID: stripe.String(userID),
	}
	params.Context = ctx
	params.AddMetadata(MetadataUserID, userID)
	params.AddMetadata(MetadataPriceID, priceID)
	params.AddMetadata(MetadataQuantity, strconv.FormatInt(quantity, 10))

	session, err := s.sessions.New(params)
	if err != nil {
		return nil, &apperr.ProviderError{Provider: "stripe", Message: err.Error()}
	}

	return &CheckoutSession{ID: session.ID, URL: session.URL}, nil
}
