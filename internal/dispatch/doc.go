// Package dispatch fans published events out to subscriber connections.
//
// For each event the Dispatcher asks the cluster coordinator which agent
// types are subscribed to the event's topic and handle its type, then writes
// the event once to every live connection supporting any of those types.
// Publishing does not wait for subscribers to acknowledge anything, and a
// failed write is logged and not retried.
//
// SubscriptionIndex is a local copy of the subscriptions added through this
// gateway together with the registrations of locally hosted agent types. The
// dispatcher falls back to it when the coordinator fails, still honoring the
// event types each registration handles.
package dispatch
