// Package command forwards dashboard commands to module connections.
//
// A command is accepted only when the requesting user owns the module and
// the module holds a live session. Rejections come back as a Result with a
// reason string; nothing is retried, and the module's acknowledgement
// arrives later as a module.command_ack event.
package command
