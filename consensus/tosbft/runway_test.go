package tosbft

import (
	"context"
	"testing"
	"time"
)

// testDataProvider always returns a fixed payload.
type testDataProvider struct{ data Data }

func (d testDataProvider) GetData(ctx context.Context) (Data, error) { return d.data, nil }

// testFinalizer records finalized data in arrival order.
type testFinalizer struct{ got []Data }

func (f *testFinalizer) Finalize(ctx context.Context, d Data) error {
	f.got = append(f.got, d)
	return nil
}

// testNet bundles the bidirectional ends of a Runway's NetworkIO so
// tests can both feed ingress and drain egress without type-asserting
// the directional channel fields.
type testNet struct {
	unitIn   chan UnitMessage
	unitOut  chan OutgoingUnitMessage
	alertIn  chan AlertMessage
	alertOut chan OutgoingAlertMessage
}

func newTestRunway(t *testing.T, kc *Ed25519Keychain, n NodeCount) (*Runway, *channelConsensus, testNet) {
	t.Helper()
	tn := testNet{
		unitIn:   make(chan UnitMessage, 64),
		unitOut:  make(chan OutgoingUnitMessage, 64),
		alertIn:  make(chan AlertMessage, 64),
		alertOut: make(chan OutgoingAlertMessage, 64),
	}
	net := NetworkIO{
		UnitMessagesIn:   tn.unitIn,
		UnitMessagesOut:  tn.unitOut,
		AlertMessagesIn:  tn.alertIn,
		AlertMessagesOut: tn.alertOut,
	}
	cons := newChannelConsensus()
	r := NewRunway(RunwayConfig{
		Config: Config{
			SessionId: 1,
			NodeCount: n,
			MaxRound:  ^Round(0),
		},
		Keychain:     kc,
		Consensus:    cons,
		DataProvider: testDataProvider{data: "payload"},
		Finalizer:    &testFinalizer{},
		Network:      net,
	})
	return r, cons, tn
}

// onCreateRequest asks the embedded Creator for a unit and, on success,
// signs and stores it — exercising the NotifyCreatedPreUnit wiring that
// drives the core's own Creator component instead of trusting an
// already-built PreUnit from the collaborator.
func TestOnCreateRequestRoundZero(t *testing.T) {
	kc := testKeychain(t, 4, 0)
	r, _, _ := newTestRunway(t, kc, 4)

	r.onCreateRequest(context.Background(), 0)

	if _, ok := r.store.UnitByCoord(UnitCoord{Creator: 0, Round: 0}); !ok {
		t.Fatalf("round-0 create request should have produced and stored a unit")
	}
	if !r.creator.roundCollectors[0].candidates.Occupied(0) {
		t.Fatalf("creator should have observed its own round-0 unit")
	}
}

// A create request for round 1 with no parents known yet fails
// silently (NotEnoughParents) without storing anything.
func TestOnCreateRequestNotEnoughParentsIsSilent(t *testing.T) {
	kc := testKeychain(t, 4, 0)
	r, _, _ := newTestRunway(t, kc, 4)

	r.onCreateRequest(context.Background(), 1)

	if len(r.store.YieldBufferUnits()) != 0 {
		t.Fatalf("no unit should have been created for round 1 without parents")
	}
}

// Units admitted from the network feed the embedded Creator, not just
// units this node creates itself — section 2's "Creator receives
// Store's units".
func TestNetworkUnitsFeedCreator(t *testing.T) {
	const n = 4
	kcs := testKeychains(t, n)
	r, _, _ := newTestRunway(t, kcs[0], n)

	for i := NodeIndex(0); i < n; i++ {
		u := signedTestUnit(t, kcs, i, 0, byte(i), 1)
		r.onUnitReceived(u.Unchecked())
	}

	pu, parents, err := r.creator.CreateUnit(1)
	if err != nil {
		t.Fatalf("CreateUnit(1) after ingesting %d round-0 units: unexpected error %v", n, err)
	}
	if len(parents) != n {
		t.Fatalf("parents: have %d want %d", len(parents), n)
	}
	if pu.Creator != 0 || pu.Round != 1 {
		t.Fatalf("unexpected PreUnit: %+v", pu)
	}
}

// A syntactically distinct unit arriving at an already-occupied coord
// triggers fork detection: an own-Alert is broadcast and this node
// starts its own RMC share for it.
func TestForkDetectionBroadcastsAlertAndStartsRmc(t *testing.T) {
	const n = 4
	kcs := testKeychains(t, n)
	r, _, net := newTestRunway(t, kcs[0], n)

	u1 := signedTestUnit(t, kcs, 2, 3, 1, 1)
	u2 := signedTestUnit(t, kcs, 2, 3, 2, 1)

	r.onUnitReceived(u1.Unchecked())
	r.onUnitReceived(u2.Unchecked())

	if !r.store.IsForker(2) {
		t.Fatalf("creator 2 should be marked a forker after the second unit at its coord")
	}

	select {
	case out := <-net.alertOut:
		if out.Message.Kind != MsgForkAlert || !out.Recipient.Everyone {
			t.Fatalf("expected a broadcast ForkAlert, got %+v", out)
		}
	default:
		t.Fatalf("expected a ForkAlert to have been sent")
	}

	select {
	case out := <-net.alertOut:
		if out.Message.Kind != MsgRmcMessage || out.Message.RmcMsg.Share == nil {
			t.Fatalf("expected an RMC share broadcast, got %+v", out)
		}
	default:
		t.Fatalf("expected this node's own RMC share to have been sent")
	}
}

// End-to-end RMC completion: once enough peers' shares arrive for the
// same alert hash, this node confirms the alert and emits a
// ForkingUnits notification that injects the forker's alert-certified
// units into the store.
func TestRmcCompletionEmitsForkingUnits(t *testing.T) {
	const n = 4 // T = 3
	kcs := testKeychains(t, n)
	r, _, _ := newTestRunway(t, kcs[0], n)

	legitUnit := signedTestUnit(t, kcs, 3, 0, 9, 1)
	alert := Alert{
		Sender: 1,
		Proof: ForkProof{
			Unit1: signedTestUnit(t, kcs, 3, 5, 1, 1).Unchecked(),
			Unit2: signedTestUnit(t, kcs, 3, 5, 2, 1).Unchecked(),
		},
		LegitUnits: []UncheckedSignedUnit{legitUnit.Unchecked()},
	}
	signedAlert := SignAlert(kcs[1], alert)
	hash := alert.Hash()

	// Node 0 receives the ForkAlert over the network and starts its own
	// RMC share as a side effect.
	r.onAlertMessage(AlertMessage{Kind: MsgForkAlert, ForkAlert: signedAlert.unchecked()})
	if !r.store.IsForker(3) {
		t.Fatalf("forker 3 should be registered after receiving the ForkAlert")
	}

	// Two more participants' shares arrive, bringing the total to T=3
	// (node 0's own share plus these two).
	for _, signer := range []NodeIndex{1, 2} {
		share := RmcShare{Node: signer, Hash: hash, Signature: kcs[signer].Sign(hash[:])}
		r.onAlertMessage(AlertMessage{Kind: MsgRmcMessage, RmcFrom: signer, RmcMsg: RmcMessage{Share: &share}})
	}

	if _, ok := r.store.UnitByHash(legitUnit.Hash()); !ok {
		t.Fatalf("legit_units should have been injected into the store once RMC completed")
	}
}

// Parents response assembly: a unit's declared ControlHash must match
// the combination of the parents actually supplied before they are
// committed and forwarded to consensus. The parents themselves are not
// pre-seeded in the store here — they are requested precisely because
// they are not already known — so this also exercises onParentsResponse
// itself admitting each parent into the store as a side effect of
// answering the response, same as a unit arriving via MsgNewUnit would.
func TestOnParentsResponseCommitsOnMatchingControlHash(t *testing.T) {
	const n = 4
	kcs := testKeychains(t, n)
	r, cons, _ := newTestRunway(t, kcs[0], n)

	var parentUnits []SignedUnit
	parentMap := NewNodeMap[Hash](n)
	for i := NodeIndex(0); i < n; i++ {
		u := signedTestUnit(t, kcs, i, 0, byte(i+1), 1)
		parentUnits = append(parentUnits, u)
		parentMap.Set(i, u.Hash())
	}
	ch := CombineControlHash(n, parentMap)

	child := signedTestUnit(t, kcs, 1, 1, 99, 1)
	child.PreUnit.ControlHash = ch
	r.store.AddUnit(child, false)
	r.store.YieldBufferUnits() // drain child's own buffer entry before asserting on parents below
	r.missingCoords[UnitCoord{Creator: 0, Round: 0}] = true

	unchecked := make([]UncheckedSignedUnit, 0, len(parentUnits))
	for _, u := range parentUnits {
		unchecked = append(unchecked, u.Unchecked())
	}
	r.onParentsResponse(child.Hash(), unchecked)

	hashes, ok := r.store.GetParents(child.Hash())
	if !ok || len(hashes) != n {
		t.Fatalf("parents should have been committed: have %v, ok=%v", hashes, ok)
	}
	for _, u := range parentUnits {
		if _, ok := r.store.UnitByHash(u.Hash()); !ok {
			t.Fatalf("parent %v should have been admitted into the store, not just referenced by hash", u.Hash())
		}
	}
	if r.missingCoords[UnitCoord{Creator: 0, Round: 0}] {
		t.Fatalf("resolving a parent's coord via ResponseParents should clear missingCoords for it")
	}
	if len(cons.sent) != 1 || cons.sent[0].Kind != NotifyUnitParents {
		t.Fatalf("expected a single NotifyUnitParents notification, have %+v", cons.sent)
	}

	r.moveUnitsToConsensus()
	if len(cons.sent) != 2 || cons.sent[1].Kind != NotifyNewUnits || len(cons.sent[1].NewUnits) != n {
		t.Fatalf("parents admitted during onParentsResponse should be forwarded via NotifyNewUnits, have %+v", cons.sent)
	}
}

// Bootstrap replays the backup log into Store and Creator before Run
// begins, and resolves the configured starting round.
type fixedLoader struct{ units []UncheckedSignedUnit }

func (f fixedLoader) Load() ([]UncheckedSignedUnit, error) { return f.units, nil }

type fixedStartingRound struct{ round Round }

func (f fixedStartingRound) StartingRound() <-chan Round {
	ch := make(chan Round, 1)
	ch <- f.round
	return ch
}

func TestBootstrapReplaysBackupAndResolvesStartingRound(t *testing.T) {
	const n = 4
	kcs := testKeychains(t, n)
	r, cons, _ := newTestRunway(t, kcs[0], n)
	r.cfg.InitialUnitCollection = true
	r.startRound = fixedStartingRound{round: 5}

	own := signedTestUnit(t, kcs, 0, 0, 7, 1)
	round := r.Bootstrap(context.Background(), fixedLoader{units: []UncheckedSignedUnit{own.Unchecked()}})

	if round != 5 {
		t.Fatalf("Bootstrap starting round: have %d want 5", round)
	}
	if _, ok := r.store.UnitByHash(own.Hash()); !ok {
		t.Fatalf("backup-replayed unit should be in the store")
	}
	if len(cons.sent) != 1 || cons.sent[0].Kind != NotifyNewUnits {
		t.Fatalf("Bootstrap should forward replayed units to consensus, have %+v", cons.sent)
	}
}

func TestBootstrapWithoutInitialUnitCollectionStartsAtZero(t *testing.T) {
	kc := testKeychain(t, 4, 0)
	r, _, _ := newTestRunway(t, kc, 4)
	round := r.Bootstrap(context.Background(), nil)
	if round != 0 {
		t.Fatalf("trivial start: have round %d want 0", round)
	}
}

// Run's exit discipline: closing the exit channel stops the loop after
// one final moveUnitsToConsensus pass.
func TestRunExitsOnSignal(t *testing.T) {
	kc := testKeychain(t, 4, 0)
	r, _, _ := newTestRunway(t, kc, 4)

	exit := make(chan struct{})
	done := make(chan struct{})
	alerterOut := make(chan ForkingNotification)
	go func() {
		r.Run(context.Background(), exit, alerterOut)
		close(done)
	}()
	close(exit)

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatalf("Run did not exit after the exit signal")
	}
}
