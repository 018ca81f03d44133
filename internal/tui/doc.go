// Copyright (c) esat-tools 2025. All rights reserved.
// SPDX-License-Identifier: MIT

// Package tui renders a live terminal view of one batch run: a progress bar
// per model slot with current losses, an overall completion bar, and the
// terminal outcome. Envelopes reach the display through the bubbletea event
// loop; intermediate updates are repainted at most once per 50ms per model,
// while terminal updates always get through.
package tui
