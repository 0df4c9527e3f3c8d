// Package listener defines the contract shared by the fencing transports
// and the processing every transport runs after it has read a request.
//
// A Listener handles one interaction per Dispatch call:
//
//	wait readable → read → authenticate → verify → deduplicate →
//	dispatch → respond → idle
//
// Transports differ only in how they read a request and where the answer
// goes. Verification, replay detection, the permission check, the backend
// call and the response encoding live in Processor.
//
// Transport packages register themselves from init:
//
//	func init() {
//	    listener.Register("tcp", newListener)
//	}
//
// and the daemon picks one by its configured name.
package listener
