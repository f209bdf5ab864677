// Package events provides types and interfaces for task lifecycle event
// delivery.
//
// The task manager publishes an event on every lifecycle transition
// (created, started, progress, completed, failed, cancelled) without
// knowing which subscribers will consume it. Publishing is fire-and-forget:
// delivery failures are logged by the publisher's caller and never affect
// scheduling.
//
// The primary components are:
// - TaskEvent: one lifecycle transition of a task
// - Handler: interface for components that consume events
// - Publisher: interface for components that deliver events
package events
