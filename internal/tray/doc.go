// Package tray plans and executes rotations of a three-compartment feeder
// tray.
//
// The tray only turns forward, one compartment per vendor call, so moving
// from position 2 to position 0 takes one step and from 0 to 2 takes two.
// Percentages used by automation map onto positions with fixed bands:
//
//	0..33   -> position 0
//	34..66  -> position 1
//	67..100 -> position 2
//
// and positions map back to 0, 50 and 100.
//
// A Planner issues the steps one at a time with a settle delay between
// them, then reads the authoritative position and reconciles its estimate.
package tray
