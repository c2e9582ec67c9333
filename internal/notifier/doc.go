// Package notifier reports dispatch runs to a Telegram chat and accepts
// operator commands (/status, /pause, /resume, /stop) from owners.
//
// # Delivery
//
// Controller events arrive on the event bus, are formatted into short
// messages and queued. One worker drains the queue under a token-bucket
// limit with jittered retry. A full queue drops the message and logs it.
//
// # Noise
//
// Successful sends are not reported one by one. The notifier posts when a
// run starts, pauses, resumes, rests or ends, and for every failed send.
package notifier
