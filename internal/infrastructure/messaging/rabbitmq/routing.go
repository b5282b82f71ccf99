package rabbitmq

import "strings"

const (
	DefaultExchange         = "nicedentist.events"
	DefaultConsumerQueue    = "auth.manager.events"
	DefaultCorrelationQueue = "manager.user.created"
	correlationBinding      = "user.*"
)

// DefaultConsumerBindings are the routing patterns the consumer queue listens on.
var DefaultConsumerBindings = []string{"manager.*", "customer.created", "dentist.created"}

var routingKeys = map[string]string{
	"usercreated":     "user.created",
	"useractivated":   "user.activated",
	"customercreated": "customer.created",
	"dentistcreated":  "dentist.created",
}

// RoutingKey maps an event type to its exchange routing key. Unknown types
// fall back to "user.<lowercased type>".
func RoutingKey(eventType string) string {
	lower := strings.ToLower(eventType)
	if key, ok := routingKeys[lower]; ok {
		return key
	}
	return "user." + lower
}
