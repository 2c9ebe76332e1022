/*
Package events provides an in-memory event broker for tarn's pub/sub
messaging.

The events package implements a lightweight event bus for broadcasting
repository mutations to interested subscribers. Every successful commit,
merge, transplant and reference change is published here after the backing
store accepted it, enabling loose coupling between the versioned store and
anything that wants to observe it.

# Architecture

Non-blocking pub/sub messaging with buffered channels:

	┌──────────────────── EVENT BROKER ────────────────────┐
	│                                                      │
	│  ┌────────────────────────────────────────┐          │
	│  │             Event Broker               │          │
	│  │  - In-memory message bus               │          │
	│  │  - Topic-agnostic (all events fan out) │          │
	│  │  - Non-blocking publish                │          │
	│  └─────────────────┬──────────────────────┘          │
	│                    │                                 │
	│  Publisher → Event Channel (buffer: 100)             │
	│       ↓                                              │
	│  Broadcast Loop                                      │
	│       ↓                                              │
	│  Subscriber Channels (buffer: 50 each)               │
	│                                                      │
	└──────────────────────────────────────────────────────┘

# Event Flow

Events are published only after the mutation is durable: the versioned store
publishes a commit event after the reference swap succeeded, never before.
The broker decouples delivery from the mutation path; a slow subscriber
loses events rather than slowing commits or holding references back.

# Event Types Catalog

Mutation events:
  - commit: a branch head advanced by one commit
  - merge: a merge commit landed on the target branch
  - transplant: transplanted commits landed on the target branch

Reference events:
  - reference.created, reference.deleted, reference.reassigned
  - repository.created: descriptor and default branch initialized

Each event carries the repository, the reference name, the resulting head
hash, the prior head hash and the affected content keys.

# Usage

Subscribing to repository activity:

	broker := events.NewBroker()
	broker.Start()
	defer broker.Stop()

	sub := broker.Subscribe()
	defer broker.Unsubscribe(sub)

	for event := range sub {
		fmt.Printf("%s %s@%s\n", event.Type, event.Ref, event.Hash)
	}

# Integration Points

  - pkg/versioned: publishes commit, merge, transplant and reference events
  - pkg/catalog: catalog commits surface through the same commit events
  - cmd/tarn: the log command can follow a subscription for live output

# Limitations

Delivery is at-most-once and process-local. A full subscriber buffer drops
events silently; durable history lives in the commit log, not the broker.
*/
package events
