// Package hub is the Connection Registry for human dashboard clients.
//
// Every authenticated browser WebSocket is represented by a Client held in
// a Hub. The Hub does not own the socket itself: the API layer runs the
// read and write pumps and drains Client.Outbound. The Hub decides which
// clients receive which events.
//
// # Selection
//
// Events are addressed with an Audience, a union of Selectors. A Selector
// matches on any combination of user, role and current page; all set
// fields must match. A client matching more than one Selector of the same
// Audience receives the event once.
//
//	h.Send(hub.Audience{
//	    {Page: "modules", UserID: ownerID},
//	    {Role: auth.RoleAdmin},
//	}, "module.telemetry", payload)
//
// # Delivery
//
// Sends never block. Each client has a bounded buffer; when it is full the
// newest frame is dropped for that client only. Sending to a client that
// is already closing is absorbed.
//
// # Supersession
//
// Registering a client for a user who already has live connections closes
// the older ones after sending them a session.superseded event.
package hub
