// Package telegram is a small Bot API client covering what the delivery
// pipeline needs: document upload and resend by file_id, link messages with
// inline keyboards, callback acknowledgements, and webhook update decoding.
//
// Bad-request and forbidden responses are reported as
// services.ErrDeliveryRejected so the coordinator can invalidate a stale
// handle or fall back to a share link. Outbound calls pass through a token
// bucket (golang.org/x/time/rate) to stay under the platform's flood limits.
package telegram
