// Copyright (c) esat-tools 2025. All rights reserved.
// SPDX-License-Identifier: MIT

// Package batchrun coordinates one batch of independent model fits: it
// validates and launches N fit workers against the numerical engine, relays
// their per-iteration progress to subscribers, tracks per-model and
// aggregate completion, supports idempotent cancellation with a bounded
// grace period, and hands the finished result to a per-dataset cache.
//
// A batch moves through Created, Launching and Running into exactly one of
// the terminal states Finished, Canceled or Errored. Partial failure is not
// fatal: the batch finishes with the surviving models and records the
// failures; it errors only when every model failed.
package batchrun
