// Package fake is a deterministic stand-in for the real status source,
// used in local runs and tests when no source base URL is configured.
package fake

import (
	"context"
	"hash/fnv"
	"time"

	"github.com/casewatch/casewatch/internal/integrations/statussource"
	"github.com/casewatch/casewatch/internal/models"
	"github.com/casewatch/casewatch/internal/receipt"
)

type step struct {
	status      string
	description string
	category    string
}

var script = []step{
	{"Case Was Received", "We received your Form I-485, Application to Register Permanent Residence or Adjust Status.", models.CategoryAdjustment},
	{"Fingerprint Fee Was Received", "We received your biometrics fee and your case is in line for processing.", models.CategoryAdjustment},
	{"Interview Was Scheduled", "We scheduled an interview for your Form I-485.", models.CategoryAdjustment},
	{"Case Was Approved", "We approved your Form I-485.", models.CategoryAdjustment},
	{"New Card Is Being Produced", "We are producing your new card.", models.CategoryAdjustment},
}

type Client struct{}

func New() *Client { return &Client{} }

// FetchStatus picks a script step deterministically from the receipt
// number, advancing roughly every ten minutes so local demos see status
// transitions.
func (c *Client) FetchStatus(ctx context.Context, receiptNumber string) (models.StatusSnapshot, error) {
	if err := ctx.Err(); err != nil {
		return models.StatusSnapshot{}, err
	}
	norm := receipt.Normalize(receiptNumber)
	now := time.Now().UTC()

	h := fnv.New32a()
	_, _ = h.Write([]byte(norm))
	base := int(h.Sum32() % uint32(len(script)))
	idx := (base + int(now.Unix()/600)) % len(script)
	st := script[idx]

	var issuer *string
	if label, ok := receipt.IssuerLabel(norm[:min(3, len(norm))]); ok {
		issuer = &label
	}
	ft := "I-485"
	return models.StatusSnapshot{
		ReceiptNumber: norm,
		StatusText:    st.status,
		StatusDate:    &now,
		Description:   st.description,
		CaseCategory:  st.category,
		FormType:      &ft,
		IssuingCenter: issuer,
		ObservedAt:    now,
	}, nil
}

func (c *Client) FetchBulk(ctx context.Context, receiptNumbers []string) ([]models.StatusSnapshot, []statussource.ItemError) {
	var (
		snaps []models.StatusSnapshot
		errs  []statussource.ItemError
	)
	for _, rn := range receiptNumbers {
		snap, err := c.FetchStatus(ctx, rn)
		if err != nil {
			errs = append(errs, statussource.ItemError{ReceiptNumber: rn, Error: err.Error()})
			continue
		}
		snaps = append(snaps, snap)
	}
	return snaps, errs
}
