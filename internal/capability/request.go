// Package capability implements the capability engine: unforgeable
// authority tokens with grant, attenuation, composition, and cascading
// revocation.
package capability

import "fmt"

// AccessRequest describes one attempted effect. A request is checked
// against the holder's capabilities and then against policy.
type AccessRequest interface {
	// Describe returns the resource and action strings used for policy
	// evaluation and audit records.
	Describe() (resource, action string)

	sealedRequest()
}

// FileRequest asks for file access.
type FileRequest struct {
	Path    string
	Read    bool
	Write   bool
	Execute bool
}

// Describe implements AccessRequest.
func (r FileRequest) Describe() (string, string) {
	return "file:" + r.Path, fileAction(r.Read, r.Write, r.Execute)
}

func (FileRequest) sealedRequest() {}

func fileAction(read, write, execute bool) string {
	action := ""
	if read {
		action += "r"
	}
	if write {
		action += "w"
	}
	if execute {
		action += "x"
	}
	if action == "" {
		action = "none"
	}
	return action
}

// NetworkRequest asks for a network connection or listener.
type NetworkRequest struct {
	Host    string
	Port    uint16
	Connect bool
	Listen  bool
}

// Describe implements AccessRequest.
func (r NetworkRequest) Describe() (string, string) {
	action := "connect"
	if r.Listen {
		action = "listen"
	}
	return fmt.Sprintf("network:%s:%d", r.Host, r.Port), action
}

func (NetworkRequest) sealedRequest() {}

// MessageRequest asks to send a message to a counterparty on a topic.
type MessageRequest struct {
	Recipient string
	Topic     string
}

// Describe implements AccessRequest.
func (r MessageRequest) Describe() (string, string) {
	return "message:" + r.Recipient, "send:" + r.Topic
}

func (MessageRequest) sealedRequest() {}

// PluginCallRequest asks to invoke a function on another plugin.
type PluginCallRequest struct {
	Plugin   string
	Function string
}

// Describe implements AccessRequest.
func (r PluginCallRequest) Describe() (string, string) {
	return "plugin:" + r.Plugin, "call:" + r.Function
}

func (PluginCallRequest) sealedRequest() {}
