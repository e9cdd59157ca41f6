// Package directory maps agent identities to the worker connection hosting them.
//
// A placement is created lazily the first time an agent is addressed: a worker
// is selected among the live connections supporting the agent's type and the
// choice is cached until that connection is removed. When no local worker
// supports the type, the cluster coordinator decides which other gateway hosts
// the agent.
package directory
