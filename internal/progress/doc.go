// Copyright (c) esat-tools 2025. All rights reserved.
// SPDX-License-Identifier: MIT

// Package progress defines the per-iteration progress protocol between fit
// workers and a single consumer.
//
// Workers publish Envelope values onto a Queue, which is the only structure
// written by multiple goroutines. A Relay drains the queue and forwards each
// envelope synchronously to one subscriber, preserving arrival order. A nil
// envelope is the sentinel: it marks the end of the stream and stops the
// relay. The relay never drops or coalesces envelopes; any throttling of
// expensive work is the subscriber's business.
package progress
