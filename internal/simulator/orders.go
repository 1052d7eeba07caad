package simulator

import (
	"github.com/google/uuid"

	"github.com/rickgao/cryptodash/internal/model"
)

// orderLifecycle walks synthetic orders through new, partially_filled and
// filled, one transition per call.
type orderLifecycle struct {
	userID   string
	exchange string
	symbol   string

	seq   int
	order *model.OrderStatusEvent
}

// next returns the following status update at price.
func (o *orderLifecycle) next(price float64, ts int64) model.OrderStatusEvent {
	if o.order == nil || o.order.Status == model.OrderFilled {
		o.seq++
		side := "buy"
		if o.seq%2 == 0 {
			side = "sell"
		}
		o.order = &model.OrderStatusEvent{
			OrderID:  uuid.NewString(),
			UserID:   o.userID,
			Exchange: o.exchange,
			Symbol:   o.symbol,
			Side:     side,
			Status:   model.OrderNew,
			Price:    price,
			Quantity: roundPrice(topQuantity(price) / 100),
		}
	} else if o.order.Status == model.OrderNew {
		o.order.Status = model.OrderPartiallyFilled
		o.order.FilledQty = roundPrice(o.order.Quantity / 2)
		o.order.AvgPrice = o.order.Price
	} else {
		o.order.Status = model.OrderFilled
		o.order.FilledQty = o.order.Quantity
		o.order.AvgPrice = o.order.Price
	}

	ev := *o.order
	ev.Ts = ts
	return ev
}
