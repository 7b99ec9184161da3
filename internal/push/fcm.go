// README: FCM push delivery for customer status updates and driver offers.
package push

import (
	"context"
	"fmt"
	"strconv"

	"firebase.google.com/go/v4/messaging"
	"github.com/sirupsen/logrus"

	"reparto/internal/modules/order"
)

type Service struct {
	client *messaging.Client
	log    *logrus.Entry
}

func NewService(client *messaging.Client, log *logrus.Entry) *Service {
	return &Service{client: client, log: log}
}

// statusTitles maps each customer-notifiable status to the notification shown
// on the customer's phone.
var statusTitles = map[order.Status]string{
	order.StatusPreparing:      "Tu pedido está en preparación",
	order.StatusDriverAssigned: "Un repartidor tomó tu pedido",
	order.StatusPickedUp:       "Tu pedido va en camino",
	order.StatusInDelivery:     "Tu pedido va en camino",
	order.StatusDelivered:      "Tu pedido fue entregado",
}

// NotifyCustomerStatus sends the customer-facing push for a status change.
// Callers gate on order.IsCustomerNotifiable; an unmapped status here is a
// programming error and is reported as such.
func (s *Service) NotifyCustomerStatus(ctx context.Context, token string, o *order.Order, to order.Status) error {
	if token == "" {
		return fmt.Errorf("empty device token for order %s", string(o.ID))
	}
	normalized, _ := order.Normalize(to)
	title, ok := statusTitles[normalized]
	if !ok {
		return fmt.Errorf("status %s is not customer-notifiable", string(to))
	}

	msg := &messaging.Message{
		Token: token,
		Data: map[string]string{
			"type":     "order_status",
			"order_id": string(o.ID),
			"status":   string(normalized),
		},
		Notification: &messaging.Notification{
			Title: title,
			Body:  fmt.Sprintf("Pedido #%s", o.Number),
		},
		Android: &messaging.AndroidConfig{
			Priority: "high",
		},
	}

	messageID, err := s.client.Send(ctx, msg)
	if err != nil {
		return fmt.Errorf("sending FCM for order %s: %w", string(o.ID), err)
	}
	s.log.WithFields(logrus.Fields{"order_id": o.ID, "message_id": messageID}).Debug("status push sent")
	return nil
}

// NotifyDriverOffer sends an FCM data message offering a delivery to a
// driver's device; used as a fallback when the driver has no live connection.
func (s *Service) NotifyDriverOffer(ctx context.Context, token string, o *order.Order) error {
	if token == "" {
		return fmt.Errorf("empty device token for order %s", string(o.ID))
	}

	msg := &messaging.Message{
		Token: token,
		Data: map[string]string{
			"type":        "new_order",
			"order_id":    string(o.ID),
			"pickup_lat":  strconv.FormatFloat(o.Pickup.Lat, 'f', 6, 64),
			"pickup_lng":  strconv.FormatFloat(o.Pickup.Lng, 'f', 6, 64),
			"dropoff_lat": strconv.FormatFloat(o.Dropoff.Lat, 'f', 6, 64),
			"dropoff_lng": strconv.FormatFloat(o.Dropoff.Lng, 'f', 6, 64),
		},
		Notification: &messaging.Notification{
			Title: "Nuevo pedido disponible",
			Body:  fmt.Sprintf("Pedido #%s cerca de ti", o.Number),
		},
		Android: &messaging.AndroidConfig{
			Priority: "high",
		},
	}

	messageID, err := s.client.Send(ctx, msg)
	if err != nil {
		return fmt.Errorf("sending FCM offer for order %s: %w", string(o.ID), err)
	}
	s.log.WithFields(logrus.Fields{"order_id": o.ID, "message_id": messageID}).Debug("offer push sent")
	return nil
}
