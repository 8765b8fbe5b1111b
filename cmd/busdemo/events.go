package main

import "time"

// WindowResized is published by the platform window when its client area
// changes size.
type WindowResized struct {
	Width, Height int
}

// KeyPressed is published for every key-down event.
type KeyPressed struct {
	Key string
}

// FrameTick drives animations, one per rendered frame.
type FrameTick struct {
	Frame int
	At    time.Time
}

// AnimationFinished is published once an animation has played all frames.
type AnimationFinished struct {
	Name   string
	Frames int
}
