// Package notify implements the secondary update-notification hub: a single
// broadcast domain with no rooms and no filtering. Every frame received from
// a subscriber, and everything published through Publish, is relayed to all
// other subscribers.
package notify
