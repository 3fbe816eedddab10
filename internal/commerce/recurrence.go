package commerce

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"sort"
	"strconv"

	"github.com/Dundurn-Market/open-tender-redux/internal/models"
	"github.com/Dundurn-Market/open-tender-redux/internal/util"
)

// RecurrenceClient talks to the recurring-order backend.
type RecurrenceClient struct {
	transport *Transport
}

// NewRecurrenceClient creates a recurring-order client
func NewRecurrenceClient(baseURL string, opts ...Option) *RecurrenceClient {
	return &RecurrenceClient{transport: NewTransport("recurrence", baseURL, opts...)}
}

// CreateRecurrence registers a new recurring order.
func (c *RecurrenceClient) CreateRecurrence(ctx context.Context, payload *models.RecurrencePayload, token string) (*models.Recurrence, error) {
	ctx, span := util.StartSpan(ctx, "RecurrenceClient.CreateRecurrence")
	defer span.End()

	resp, err := c.transport.Do(ctx, Request{Endpoint: "/cart/", Method: http.MethodPost, Body: payload, Token: token})
	if err != nil {
		return nil, err
	}
	return decodeRecurrence(resp)
}

// UpdateRecurrence replaces the recurring order registered for orderID.
func (c *RecurrenceClient) UpdateRecurrence(ctx context.Context, orderID int64, payload *models.RecurrencePayload, token string) (*models.Recurrence, error) {
	ctx, span := util.StartSpan(ctx, "RecurrenceClient.UpdateRecurrence")
	defer span.End()

	endpoint := fmt.Sprintf("/cart/%d/", orderID)
	resp, err := c.transport.Do(ctx, Request{Endpoint: endpoint, Method: http.MethodPut, Body: payload, Token: token})
	if err != nil {
		return nil, err
	}
	return decodeRecurrence(resp)
}

// ListRecurrences returns the customer's recurring orders. The backend may
// answer with a keyed map, which is flattened in key order.
func (c *RecurrenceClient) ListRecurrences(ctx context.Context, token string) ([]models.Recurrence, error) {
	resp, err := c.transport.Do(ctx, Request{Endpoint: "/", Token: token})
	if err != nil {
		return nil, err
	}
	return normalizeRecurrences(resp)
}

// DeleteOrder cancels an order and the recurrences tied to it.
func (c *RecurrenceClient) DeleteOrder(ctx context.Context, orderID int64, token string) error {
	resp, err := c.transport.Do(ctx, Request{Endpoint: fmt.Sprintf("/cart/%d/", orderID), Method: http.MethodDelete, Token: token})
	if err != nil {
		return err
	}
	var ack struct {
		Error string `json:"error"`
	}
	if err := resp.Decode(&ack); err != nil {
		return err
	}
	if ack.Error != "" {
		return errors.New(ack.Error)
	}
	return nil
}

func decodeRecurrence(resp Response) (*models.Recurrence, error) {
	var rec models.Recurrence
	if err := resp.Decode(&rec); err != nil {
		return nil, err
	}
	return &rec, nil
}

func normalizeRecurrences(resp Response) ([]models.Recurrence, error) {
	out := []models.Recurrence{}
	if resp.NoContent || len(resp.Body) == 0 {
		return out, nil
	}

	if err := json.Unmarshal(resp.Body, &out); err == nil {
		return out, nil
	}

	var keyed map[string]models.Recurrence
	if err := json.Unmarshal(resp.Body, &keyed); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedResponse, err)
	}
	keys := make([]string, 0, len(keyed))
	for k := range keyed {
		keys = append(keys, k)
	}
	sort.Slice(keys, func(i, j int) bool {
		a, errA := strconv.Atoi(keys[i])
		b, errB := strconv.Atoi(keys[j])
		if errA == nil && errB == nil {
			return a < b
		}
		return keys[i] < keys[j]
	})
	for _, k := range keys {
		rec := keyed[k]
		if rec.ID == "" {
			rec.ID = k
		}
		out = append(out, rec)
	}
	return out, nil
}
