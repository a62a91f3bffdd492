// Package core defines the shared domain model of AgentGrid: agents and
// their capability declarations, conversations and messages, decomposed
// tasks, delivery events, the tool-bridge contract and the error taxonomy
// used across the engine.
//
// Higher layers (registry, router, decompose, conversation, bridge,
// delivery, engine) depend only on the types and interfaces declared here;
// core itself depends on nothing but the standard library and the ID
// generator. Keeping the dependency arrow pointing inward lets each
// subsystem be tested in isolation with lightweight fakes.
package core
