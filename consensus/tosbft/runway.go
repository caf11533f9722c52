package tosbft

import (
	"context"
	"time"
)

// NetworkIO bundles the channels Runway is the exclusive consumer or
// producer of (section 5's "shared resources": multi-producer
// single-consumer in, single-producer multi-consumer out).
type NetworkIO struct {
	UnitMessagesIn   <-chan UnitMessage
	UnitMessagesOut  chan<- OutgoingUnitMessage
	AlertMessagesIn  <-chan AlertMessage
	AlertMessagesOut chan<- OutgoingAlertMessage
}

// RunwayConfig bundles Runway's collaborators: everything out of scope
// per section 1, pinned here only by interface.
type RunwayConfig struct {
	Config        Config
	Keychain      Keychain
	Consensus     Consensus
	DataProvider  DataProvider
	Finalizer     FinalizationHandler
	Saver         UnitSaver
	StartingRound StartingRoundProvider
	Network       NetworkIO
}

// Runway is the mediator: it owns a single-threaded cooperative event
// loop wiring Validator, Store, Creator and AlertHandler to the network
// and to Consensus. It is driven exclusively by its own Run loop;
// none of its children are concurrent internally.
type Runway struct {
	cfg Config
	kc  Keychain

	validator    *Validator
	store        *UnitStore
	creator      *Creator
	alertHandler *AlertHandler
	rmc          *Rmc

	consensus    Consensus
	dataProvider DataProvider
	finalizer    FinalizationHandler
	saver        UnitSaver
	startRound   StartingRoundProvider
	net          NetworkIO

	// missingCoords/missingParentsOf track outstanding requests so a
	// still-unanswered MissingUnits/WrongControlHash notification does
	// not spawn a duplicate request.
	missingCoords    map[UnitCoord]bool
	missingParentsOf map[Hash]bool

	// confirmedRmcs guards against re-confirming and re-broadcasting an
	// already-completed RMC certificate: Rmc.HandleIncoming reports
	// "completed" every time quorum holds, not only the first time.
	confirmedRmcs map[Hash]bool

	exiting bool
}

// NewRunway assembles a Runway from its collaborators.
func NewRunway(rc RunwayConfig) *Runway {
	return &Runway{
		cfg:              rc.Config,
		kc:               rc.Keychain,
		validator:        NewValidator(rc.Keychain, rc.Config.SessionId, rc.Config.NodeCount, rc.Config.MaxRound),
		store:            NewUnitStore(rc.Config.NodeCount),
		creator:          NewCreator(rc.Keychain.Index(), rc.Config.NodeCount, rc.Config.SessionId),
		alertHandler:     NewAlertHandler(rc.Keychain, rc.Config.SessionId, rc.Config.MaxAlertedUnits),
		rmc:              NewRmc(rc.Config.NodeCount),
		consensus:        rc.Consensus,
		dataProvider:     rc.DataProvider,
		finalizer:        rc.Finalizer,
		saver:            rc.Saver,
		startRound:       rc.StartingRound,
		net:              rc.Network,
		missingCoords:    make(map[UnitCoord]bool),
		missingParentsOf: make(map[Hash]bool),
		confirmedRmcs:    make(map[Hash]bool),
	}
}

// ---- Ingress: unit traffic from the network ----

// onUnitMessage dispatches an incoming UnitMessage.
func (r *Runway) onUnitMessage(ctx context.Context, msg UnitMessage) {
	switch msg.Kind {
	case MsgNewUnit:
		r.onUnitReceived(msg.NewUnit)
	case MsgRequestCoord:
		r.onRequestCoord(msg.From, msg.Coord)
	case MsgRequestParents:
		r.onRequestParents(msg.From, msg.ParentsOf)
	case MsgRequestNewest:
		r.onRequestNewest(msg.From, msg.Salt)
	case MsgResponseParents:
		r.onParentsResponse(msg.ParentsOf, msg.ResponseParents)
	case MsgResponseCoord:
		r.onUnitReceived(msg.ResponseCoord)
	}
}

// onUnitReceived validates a unit from the network (non-alert path).
// If valid, it resolves any outstanding missing_coords entry, then
// adds it to the store unless doing so would be a fork.
func (r *Runway) onUnitReceived(u UncheckedSignedUnit) {
	signed, err := r.validator.ValidateUnit(u)
	if err != nil {
		log.Warn("rejecting invalid unit", "err", err)
		return
	}
	delete(r.missingCoords, signed.Coord())
	r.addUnitToStoreUnlessFork(signed)
}

// addUnitToStoreUnlessFork is on_unit_received's core: units from an
// already-known forker are dropped silently (they enter the store only
// through the alert path); fork detection here produces an own-Alert
// carrying all of the forker's previously-stored units as commitment,
// and suppresses the incoming unit — it returns only via a later
// ForkingNotification::Units once the resulting alert's RMC completes.
func (r *Runway) addUnitToStoreUnlessFork(signed SignedUnit) {
	if r.store.IsForker(signed.Creator) {
		return
	}
	full := signed.FullUnit
	if existing, isFork := r.store.IsNewFork(&full); isFork {
		r.onNewForkerDetected(signed, existing)
		return
	}
	if err := r.store.AddUnit(signed, false); err != nil {
		log.Warn("store rejected unit", "err", err)
		return
	}
	r.creator.AddUnit(signed.Creator, signed.Round, signed.Hash())
}

// onNewForkerDetected forms and broadcasts an own-Alert for a locally
// observed fork between signed and existing.
func (r *Runway) onNewForkerDetected(signed, existing SignedUnit) {
	forker := signed.Creator
	alreadyForker := r.store.IsForker(forker)
	priorUnits := r.store.MarkForker(forker)
	if alreadyForker {
		return
	}
	legit := make([]UncheckedSignedUnit, 0, len(priorUnits))
	for _, u := range priorUnits {
		legit = append(legit, u.Unchecked())
	}
	alert := Alert{
		Sender:     r.kc.Index(),
		Proof:      ForkProof{Unit1: existing.Unchecked(), Unit2: signed.Unchecked()},
		LegitUnits: legit,
	}
	msg, recipient, hash := r.alertHandler.OnOwnAlert(alert)
	r.sendAlertMessage(AlertMessage{Kind: MsgForkAlert, ForkAlert: msg}, recipient)
	r.startRmcFor(hash)
}

// startRmcFor signs hash as this node's own RMC share and broadcasts it,
// the first step of propagating RMC for a newly-registered alert.
func (r *Runway) startRmcFor(hash Hash) {
	share := r.rmc.StartRmc(r.kc, hash)
	r.sendAlertMessage(AlertMessage{Kind: MsgRmcMessage, RmcFrom: r.kc.Index(), RmcMsg: RmcMessage{Share: &share}}, RecipientEveryone)
}

// onRequestCoord answers with the stored unit if present; silent drop
// otherwise.
func (r *Runway) onRequestCoord(from NodeIndex, coord UnitCoord) {
	u, ok := r.store.UnitByCoord(coord)
	if !ok {
		return
	}
	r.sendUnitMessage(UnitMessage{Kind: MsgResponseCoord, ResponseCoord: u.Unchecked()}, RecipientNode(from))
}

// onRequestParents answers only when every parent is in store; else
// silent drop, since a partial answer is never meaningful.
func (r *Runway) onRequestParents(from NodeIndex, h Hash) {
	hashes, ok := r.store.GetParents(h)
	if !ok {
		return
	}
	parents := make([]UncheckedSignedUnit, 0, len(hashes))
	for _, ph := range hashes {
		u, ok := r.store.UnitByHash(ph)
		if !ok {
			return
		}
		parents = append(parents, u.Unchecked())
	}
	r.sendUnitMessage(UnitMessage{Kind: MsgResponseParents, ParentsOf: h, ResponseParents: parents}, RecipientNode(from))
}

// onRequestNewest signs a NewestUnitResponse and sends it, supporting
// the crash-recovery "find my highest previously-committed unit" dance.
func (r *Runway) onRequestNewest(from NodeIndex, salt uint64) {
	var resp NewestUnitResponse
	resp.Requester = from
	resp.Responder = r.kc.Index()
	resp.Salt = salt
	if u, ok := r.store.NewestUnit(from); ok {
		unchecked := u.Unchecked()
		resp.Unit = &unchecked
	}
	r.sendUnitMessage(UnitMessage{Kind: MsgResponseNewest, ResponseNewest: resp}, RecipientNode(from))
}

// onParentsResponse validates and assembles a parents response: drop if
// parents already known, drop if the unit itself is unknown, else
// validate each parent, check round and creator agreement, feed each
// one into the store exactly as a unit arriving via MsgNewUnit would
// (resolving any outstanding missing-coord request and fork-checking
// it), verify the combined ControlHash, and only then commit the
// parent hash list.
func (r *Runway) onParentsResponse(unitHash Hash, parents []UncheckedSignedUnit) {
	if _, known := r.store.GetParents(unitHash); known {
		return
	}
	unit, ok := r.store.UnitByHash(unitHash)
	if !ok {
		return
	}

	present := make([]bool, r.cfg.NodeCount)
	parentMap := NewNodeMap[Hash](r.cfg.NodeCount)
	// The unit's own declared parent count is implicit in its
	// ControlHash; we reconstruct the presence bitmap from the
	// response itself and cross-check against ControlHash below, so a
	// mismatched count simply fails the ControlHash check.
	for _, p := range parents {
		signed, err := r.validator.ValidateUnit(p)
		if err != nil {
			return
		}
		if signed.Round != unit.Round-1 {
			return
		}
		if present[signed.Creator] {
			return
		}
		present[signed.Creator] = true
		parentMap.Set(signed.Creator, signed.Hash())

		// A parent answering this response is otherwise indistinguishable
		// from one arriving via MsgNewUnit: it must enter byHash/byCoord
		// (so later RequestParents/RequestCoord answers and fork checks
		// see it) and reach the Creator, same as any other admitted unit.
		delete(r.missingCoords, signed.Coord())
		r.addUnitToStoreUnlessFork(signed)
	}

	combined := CombineControlHash(r.cfg.NodeCount, parentMap)
	if combined != unit.ControlHash {
		return
	}

	hashes := make([]Hash, 0, parentMap.Count())
	parentMap.Iter(func(_ NodeIndex, h Hash) { hashes = append(hashes, h) })
	r.store.AddParents(unitHash, hashes)
	delete(r.missingParentsOf, unitHash)
	r.consensus.SendNotification(NotificationIn{
		Kind:          NotifyUnitParents,
		ParentsOfHash: unitHash,
		ParentHashes:  hashes,
	})
}

// ---- Ingress: alert traffic from the network ----

// onAlertMessage dispatches an incoming AlertMessage (ForkAlert,
// RmcMessage, or AlertRequest). RmcMessage traffic additionally feeds
// this node's own Rmc collector — section 9 pins RMC as an external
// collaborator, and rmc.go is the reference implementation wired here.
func (r *Runway) onAlertMessage(msg AlertMessage) {
	isNewForkAlert := msg.Kind == MsgForkAlert
	if msg.Kind == MsgRmcMessage {
		r.onRmcMessage(msg)
	}

	reply, notification, err := r.alertHandler.OnMessage(msg)
	if err != nil {
		log.Warn("alert message rejected", "err", err)
		isNewForkAlert = false
	}
	if notification != nil {
		r.onAlertNotification(*notification)
	}
	if reply != nil {
		recipient := RecipientEveryone
		if reply.Kind == MsgAlertRequest {
			recipient = RecipientNode(reply.RequestNode)
		}
		r.sendAlertMessage(*reply, recipient)
	}

	// A freshly-registered (non-repeated) ForkAlert needs this node to
	// start contributing its own RMC share, same as the accuser does in
	// onNewForkerDetected.
	if isNewForkAlert {
		r.startRmcFor(msg.ForkAlert.Alert.Hash())
	}
}

// onRmcMessage feeds an incoming RmcMessage into this node's local Rmc
// collector. If it completes a hash for the first time, the resulting
// alert confirmation is processed and the completed certificate is
// rebroadcast so peers still collecting can finish too.
func (r *Runway) onRmcMessage(msg AlertMessage) {
	multisigned, completed, err := r.rmc.HandleIncoming(msg.RmcMsg)
	if err != nil {
		log.Warn("rmc message rejected", "err", err)
		return
	}
	if !completed || r.confirmedRmcs[multisigned.Hash] {
		return
	}
	r.confirmedRmcs[multisigned.Hash] = true

	notification, err := r.alertHandler.AlertConfirmed(multisigned.Hash)
	if err != nil {
		log.Warn("alert confirmation failed", "err", err)
		return
	}
	r.onAlertNotification(notification)
	r.sendAlertMessage(AlertMessage{Kind: MsgRmcMessage, RmcFrom: r.kc.Index(), RmcMsg: RmcMessage{Complete: &multisigned}}, RecipientEveryone)
}

// ---- Ingress: forking notifications from the Alert Handler ----

// onAlertNotification injects a forker's units as trusted (alert path:
// validate and insert unconditionally, since RMC confirms them), or
// folds a forker announcement into the store.
func (r *Runway) onAlertNotification(n ForkingNotification) {
	switch n.Kind {
	case ForkingForker:
		forker := n.Proof.Unit1.Creator
		r.store.MarkForker(forker)
	case ForkingUnits:
		for _, u := range n.Units {
			signed, err := r.validator.ValidateUnit(u)
			if err != nil {
				log.Warn("alert-certified unit failed validation", "err", err)
				continue
			}
			if err := r.store.AddUnit(signed, true); err != nil {
				log.Warn("store rejected alert-certified unit", "err", err)
				continue
			}
			r.creator.AddUnit(signed.Creator, signed.Round, signed.Hash())
		}
	}
}

// ---- Egress: consensus-driven ----

// onCreateRequest asks this node's own Creator to build a PreUnit for
// round, then carries it through signing, persistence, and store
// insertion. A failure here (NotEnoughParents / MissingOwnParent) is
// expected and common — Consensus will ask again once more parents
// arrive.
func (r *Runway) onCreateRequest(ctx context.Context, round Round) {
	pu, _, err := r.creator.CreateUnit(round)
	if err != nil {
		log.Debug("cannot create unit yet", "round", round, "err", err)
		return
	}
	r.onCreate(ctx, pu)
}

// onCreate pulls a payload from DataProvider (may suspend), signs and
// persists the resulting unit, then inserts it into the store. Parent
// hashes for this unit are not recorded here: they arrive later through
// the ordinary AddedToDag path once Consensus has placed the unit in
// the DAG, same as for any other unit.
func (r *Runway) onCreate(ctx context.Context, pu PreUnit) {
	data, err := r.dataProvider.GetData(ctx)
	if err != nil {
		log.Warn("data provider failed", "err", err)
		return
	}
	full := FullUnit{PreUnit: pu, Data: data, SessionId: r.cfg.SessionId}
	signed := Sign(r.kc, full)

	if r.saver != nil {
		if err := r.saver.Save(signed.Unchecked()); err != nil {
			// Best-effort: failure is logged but does not halt,
			// matching section 4.E's CreatedPreUnit contract.
			log.Error("unit backup save failed", "err", err)
		}
	}

	if err := r.store.AddUnit(signed, false); err != nil {
		log.Warn("store rejected freshly created unit", "err", err)
		return
	}
	r.creator.AddUnit(signed.Creator, signed.Round, signed.Hash())
}

// onMissingUnits requests, by coord, every not-in-store coord that was
// not already being requested.
func (r *Runway) onMissingUnits(coords []UnitCoord) {
	for _, c := range coords {
		if r.store.ContainsCoord(c) || r.missingCoords[c] {
			continue
		}
		r.missingCoords[c] = true
		r.sendUnitMessage(UnitMessage{Kind: MsgRequestCoord, From: r.kc.Index(), Coord: c}, RecipientNode(c.Creator))
	}
}

// onWrongControlHash delivers parents to consensus immediately if they
// are somehow already known; else requests parents, from the unit's
// creator when known, else from everyone.
func (r *Runway) onWrongControlHash(h Hash) {
	if hashes, ok := r.store.GetParents(h); ok {
		r.consensus.SendNotification(NotificationIn{Kind: NotifyUnitParents, ParentsOfHash: h, ParentHashes: hashes})
		return
	}
	if r.missingParentsOf[h] {
		return
	}
	r.missingParentsOf[h] = true

	recipient := RecipientEveryone
	if u, ok := r.store.UnitByHash(h); ok {
		recipient = RecipientNode(u.Creator)
	}
	r.sendUnitMessage(UnitMessage{Kind: MsgRequestParents, From: r.kc.Index(), ParentsOf: h}, recipient)
}

// onAddedToDag records parents, resolves any outstanding missing-parent
// request, and multicasts the unit if we are its creator.
func (r *Runway) onAddedToDag(h Hash, parents []Hash) {
	r.store.AddParents(h, parents)
	delete(r.missingParentsOf, h)

	u, ok := r.store.UnitByHash(h)
	if !ok || u.Creator != r.kc.Index() {
		return
	}
	r.sendUnitMessage(UnitMessage{Kind: MsgNewUnit, NewUnit: u.Unchecked()}, RecipientEveryone)
}

// ---- Batch delivery ----

// onOrderedBatch extracts each unit's payload (present by invariant of
// the consensus layer) and hands them one by one to FinalizationHandler
// in order. This handoff may suspend.
func (r *Runway) onOrderedBatch(ctx context.Context, batch []Hash) {
	for _, h := range batch {
		u, ok := r.store.UnitByHash(h)
		if !ok {
			log.Error("ordered batch referenced unit absent from store", "hash", h)
			continue
		}
		if err := r.finalizer.Finalize(ctx, u.Data); err != nil {
			log.Error("finalization failed", "err", err)
		}
	}
}

// ---- Shared plumbing ----

func (r *Runway) sendUnitMessage(msg UnitMessage, to Recipient) {
	select {
	case r.net.UnitMessagesOut <- OutgoingUnitMessage{Message: msg, Recipient: to}:
	default:
		// Exit discipline (section 4.E): any send on a channel that
		// should be alive signals exit on failure. A full buffered
		// channel here means our peer (the network adapter) isn't
		// draining — treat it the same as a dead peer.
		r.exiting = true
	}
}

func (r *Runway) sendAlertMessage(msg AlertMessage, to Recipient) {
	select {
	case r.net.AlertMessagesOut <- OutgoingAlertMessage{Message: msg, Recipient: to}:
	default:
		r.exiting = true
	}
}

// moveUnitsToConsensus drains the store's buffer and forwards every
// unit's Unit projection to consensus. It runs after every select
// iteration, not only after unit-message handling.
func (r *Runway) moveUnitsToConsensus() {
	units := r.store.YieldBufferUnits()
	if len(units) == 0 {
		return
	}
	projections := make([]Unit, 0, len(units))
	for _, u := range units {
		projections = append(projections, u.Projection())
	}
	r.consensus.SendNotification(NotificationIn{Kind: NotifyNewUnits, NewUnits: projections})
}

func (r *Runway) statusReport() string {
	return runwayStatus(r.store.GetStatus(), len(r.missingCoords), len(r.missingParentsOf))
}

// Bootstrap replays the on-disk backup log (if loader is non-nil) and
// resolves the starting round before Run begins accepting network
// input, per section 6: "an append-only log of UncheckedSignedUnits...
// replayed on restart before the runway begins accepting network
// input." Replayed units (this node's own, saved before being
// multicast) are validated and then added to Store and Creator
// directly, without the fork check that live network units go through.
func (r *Runway) Bootstrap(ctx context.Context, loader UnitLoader) Round {
	if loader != nil {
		units, err := loader.Load()
		if err != nil {
			log.Error("backup replay failed", "err", err)
		}
		for _, u := range units {
			signed, err := r.validator.ValidateUnit(u)
			if err != nil {
				log.Warn("backup replay: invalid unit", "err", err)
				continue
			}
			if err := r.store.AddUnit(signed, false); err != nil {
				log.Warn("backup replay: store rejected unit", "err", err)
				continue
			}
			r.creator.AddUnit(signed.Creator, signed.Round, signed.Hash())
		}
		r.moveUnitsToConsensus()
	}

	if r.startRound == nil || !r.cfg.InitialUnitCollection {
		return 0
	}
	select {
	case round, ok := <-r.startRound.StartingRound():
		if ok {
			return round
		}
	case <-ctx.Done():
	}
	return 0
}

// Run drives the single-threaded cooperative event loop, selecting
// among consensus-output messages, alerter notifications, network unit
// messages, network alert/RMC traffic, ordered batches, and a periodic
// status tick, until exit is signalled. move_units_to_consensus runs
// unconditionally after every iteration.
func (r *Runway) Run(ctx context.Context, exit <-chan struct{}, alerterOut <-chan ForkingNotification) {
	tick := time.NewTicker(r.cfg.StatusTickIntervalOrDefault())
	defer tick.Stop()

	for !r.exiting {
		select {
		case n, ok := <-r.consensus.Notifications():
			if !ok {
				r.exiting = true
				break
			}
			switch n.Kind {
			case NotifyCreatedPreUnit:
				r.onCreateRequest(ctx, n.CreateRound)
			case NotifyMissingUnits:
				r.onMissingUnits(n.MissingCoords)
			case NotifyWrongControlHash:
				r.onWrongControlHash(n.WrongControlHashOf)
			case NotifyAddedToDag:
				r.onAddedToDag(n.AddedToDagHash, n.AddedToDagParents)
			}

		case n, ok := <-alerterOut:
			if !ok {
				r.exiting = true
				break
			}
			r.onAlertNotification(n)

		case msg, ok := <-r.net.UnitMessagesIn:
			if !ok {
				r.exiting = true
				break
			}
			r.onUnitMessage(ctx, msg)

		case msg, ok := <-r.net.AlertMessagesIn:
			if !ok {
				r.exiting = true
				break
			}
			r.onAlertMessage(msg)

		case batch, ok := <-r.consensus.OrderedBatches():
			if !ok {
				r.exiting = true
				break
			}
			r.onOrderedBatch(ctx, batch)

		case <-tick.C:
			log.Debug(r.statusReport())

		case <-exit:
			r.exiting = true
		}

		r.moveUnitsToConsensus()
	}
}
