// Package peer connects gateways to each other over NATS.
//
// When the cluster coordinator places an agent on another gateway, the
// request is forwarded with Client.Forward to the subject
// "gateway.<id>.invoke" and the owning gateway answers on the reply subject.
// A gateway routes a forwarded request to its own workers only and never
// forwards it again, so requests cannot loop between gateways.
//
// Events published by workers are relayed on "gateway.events" so subscribers
// connected to other gateways receive them too.
//
// Bus runs an embedded NATS server for single-host clusters and tests.
package peer
