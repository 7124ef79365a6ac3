// Package tools holds the actuators a model may invoke while answering a
// prompt: writing a note to a uniquely named file, appending to a daily
// summary journal, and marking a mailbox message as read. A Registry exposes
// the enabled tools to model adapters that support function calling and
// enforces a capability policy on what may be registered.
package tools
