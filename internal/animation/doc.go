// Copyright ©2023 Dan Kortschak. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package animation provides frame assembly and compositing for animated
// images.
//
// Assemble consumes a container chunk sequence and builds the frame list
// describing an animation. A Compositor renders frames from the list onto a
// pooled canvas, applying each frame's blend operation and the disposal
// operation of the frame before it.
package animation
