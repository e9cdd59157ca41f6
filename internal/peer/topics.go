package peer

import "fmt"

// Subject patterns for gateway-to-gateway traffic.

// SubjectInvoke carries requests forwarded to one gateway.
func SubjectInvoke(gatewayID string) string {
	return fmt.Sprintf("gateway.%s.invoke", gatewayID)
}

// SubjectEvents carries events relayed to every gateway.
const SubjectEvents = "gateway.events"

// HeaderOrigin names the gateway that relayed an event.
const HeaderOrigin = "Gateway-Origin"
