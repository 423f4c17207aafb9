// Package core implements the task runtime.
//
// A Kernel owns the registry of tasks and a fixed number of worker slots.
// Each Task runs its body on its own goroutine but only executes while it
// holds a slot, so tasks are cooperatively multiplexed onto the configured
// number of workers. A task gives its slot up at suspension points: Yield,
// Block followed by Yield, Join, Sleep and a Receive that finds no data.
//
// Tasks talk through ports and channels. A Port is the inbound mailbox of
// its owning task with a fixed unit size. A Channel is a cloneable,
// reference-counted send handle bound to one port. A message is either
// copied straight into a receiver that is already blocked (rendezvous) or
// queued on the sending channel in the kernel's shared arena.
package core
