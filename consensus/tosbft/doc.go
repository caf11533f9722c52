// Package tosbft implements the core of an asynchronous Byzantine Fault
// Tolerant atomic broadcast protocol in the AlephBFT family: a DAG of
// signed units referencing quorum-many parents at the previous round, a
// reliable-multicast accusation protocol for publicizing equivocation
// (forks), and a single mediator, Runway, that wires unit creation, fork
// alerting and dissemination together in front of an abstract ordering
// engine.
//
// The package does not define the ordering algorithm that turns a DAG
// into a total order, the wire encoding of messages, the signature
// scheme, network delivery, or persistence format beyond an append-only
// log of signed units. Those are expressed as collaborator interfaces
// (Keychain, Consensus, DataProvider, FinalizationHandler,
// UnitSaver/UnitLoader) plus the NetworkIO channel bundle, all supplied
// by the embedder.
package tosbft
