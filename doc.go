// Package connect implements a small social connection service: account
// registration and login over JWT sessions, plus directed connection
// requests between users with email notifications.
//
// Accounts:
//   - BaseAuth is the account capability over the Users repository. It
//     validates payloads with ozzo-validation, hashes passwords with bcrypt
//     and signs sessions through TokenService.
//   - WorkflowAuth decorates BaseAuth. Links in confirmation and reset
//     emails point to the public URL, confirmation answers with the user,
//     forgot password never reveals whether an account exists and login
//     responses carry the user's connection requests.
//
// Connection requests:
//   - ConnectionService owns the write path. Only the receiver changes the
//     status and only the requester edits the message. Accepted and rejected
//     requests keep their status.
//   - ConnectionLifecycle sends the notifications: the receiver hears about
//     new requests and the requester hears about acceptance. Delivery
//     failures are logged and never fail the write.
//
// Activity sinks:
//   - ActivitySink receives audit events for registrations, logins, resets
//     and connection changes. Sinks run best effort.
//
// HTTP:
//   - RegisterAuthRoutes and RegisterConnectionRoutes mount the fiber
//     handlers. ErrorHandler renders go-errors values as JSON.
package connect
