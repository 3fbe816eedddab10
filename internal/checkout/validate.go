package checkout

import (
	"context"

	"github.com/Dundurn-Market/open-tender-redux/internal/models"
	"github.com/Dundurn-Market/open-tender-redux/internal/util"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.uber.org/zap"
)

// ValidationResult is the server's check together with the field errors
// left for the customer to correct.
type ValidationResult struct {
	Check          *models.Check
	FieldErrors    models.FieldErrors
	Classification Tag
	Tasks          Tasks
}

// Validate sends an order to the validation endpoint. When order is nil it
// is assembled from snap. Fulfillment and cart errors are handed to their
// recovery action and not returned as field errors; promo code and
// unclassified errors are returned unchanged.
func (p *Pipeline) Validate(ctx context.Context, snap Snapshot, order *models.AssembledOrder) (*ValidationResult, error) {
	ctx, span := util.StartSpan(ctx, "Pipeline.Validate")
	defer span.End()

	if err := p.machine.begin(PhaseValidating); err != nil {
		util.CheckoutBusyRejectionsTotal.Inc()
		return nil, err
	}
	defer p.machine.settle(PhaseIdle)
	p.setValidation(Pending[*ValidationResult]())

	if order == nil {
		order = Assemble(snap)
	}

	check, err := p.deps.Orders.ValidateOrder(ctx, order)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		util.CheckoutValidationsTotal.WithLabelValues("error").Inc()
		p.logger.Error("Order validation failed", zap.Error(err))
		p.setValidation(Rejected[*ValidationResult](err))
		return nil, err
	}

	c := Classify(FieldErrorsFromCheck(check))
	span.SetAttributes(attribute.String("checkout.classification", string(c.Tag)))
	util.CheckoutValidationsTotal.WithLabelValues(string(c.Tag)).Inc()

	result := &ValidationResult{
		Check:          check,
		FieldErrors:    models.FieldErrors{},
		Classification: c.Tag,
	}
	switch c.Tag {
	case TagPromoCodeErrors, TagUnclassified:
		result.FieldErrors = c.FieldErrors
	default:
		result.Tasks = p.recover(ctx, c, order, 0)
	}

	if len(c.FieldErrors) > 0 {
		p.logger.Info("Order validation returned errors",
			zap.String("classification", string(c.Tag)),
			zap.Int("fields", len(c.FieldErrors)))
	}

	p.setValidation(Fulfilled(result))
	return result, nil
}
