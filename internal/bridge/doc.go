// Package bridge is the WebSocket link between the daemon and the browser.
//
// The extension connects with role=extension and executes tab operations on
// the daemon's behalf; requests are correlated by a uuid id and answered with
// a "reply" envelope. Popups connect with role=popup, receive every
// queue:update broadcast and may send commands. Any inbound envelope that is
// not a reply is handed to the configured Handler.
package bridge
