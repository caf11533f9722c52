package tosbft

// accusation identifies an (accuser, accused) pair — the key
// known_rmcs is indexed by.
type accusation struct {
	sender NodeIndex
	forker NodeIndex
}

// AlertHandler validates fork accusations, orchestrates the
// reliable-multicast that makes a fork publicly known, and emits
// ForkingNotifications. It exclusively owns known_alerts, known_forkers
// and known_rmcs.
type AlertHandler struct {
	kc      Keychain
	session SessionId

	// maxLegitUnits bounds Alert.LegitUnits at verification time; 0
	// means unbounded (see SPEC_FULL.md's recorded decision for the
	// legit_units open question).
	maxLegitUnits int

	knownForkers map[NodeIndex]ForkProof
	knownAlerts  map[Hash]SignedAlert
	knownRmcs    map[accusation]Hash
}

// NewAlertHandler builds an AlertHandler bound to a session and
// keychain, with legit_units bounded by maxLegitUnits (0 = unbounded).
func NewAlertHandler(kc Keychain, session SessionId, maxLegitUnits int) *AlertHandler {
	return &AlertHandler{
		kc:            kc,
		session:       session,
		maxLegitUnits: maxLegitUnits,
		knownForkers:  make(map[NodeIndex]ForkProof),
		knownAlerts:   make(map[Hash]SignedAlert),
		knownRmcs:     make(map[accusation]Hash),
	}
}

// verifyCommitment checks each unit in alert.LegitUnits is individually
// signature-valid, created by the forker, and at a round not repeated
// in the commitment. Omitting an upper bound is intentional upstream;
// this implementation surfaces the configured bound as a fourth rule
// when non-zero.
func (h *AlertHandler) verifyCommitment(alert *Alert) error {
	if h.maxLegitUnits > 0 && len(alert.LegitUnits) > h.maxLegitUnits {
		return ErrTooManyLegitUnits
	}
	forker := alert.Forker()
	seenRounds := make(map[Round]bool, len(alert.LegitUnits))
	for i := range alert.LegitUnits {
		u := &alert.LegitUnits[i]
		if !u.VerifySignature(h.kc) {
			return ErrCommitmentIncorrectlySigned
		}
		if u.Creator != forker {
			return ErrCommitmentWrongCreator
		}
		if seenRounds[u.Round] {
			return ErrCommitmentSameRound
		}
		seenRounds[u.Round] = true
	}
	return nil
}

// verifyFork delegates to ForkProof.Verify under the handler's session.
func (h *AlertHandler) verifyFork(proof *ForkProof) (NodeIndex, error) {
	return proof.Verify(h.kc, h.session)
}

// rmcAlert stores alert under known_alerts unconditionally before
// (re)pinning known_rmcs — this ordering is what lets on_message's
// AlertRequest branch serve alerts that were later superseded by a
// RepeatedAlert response.
func (h *AlertHandler) rmcAlert(signed SignedAlert, acc accusation) Hash {
	hash := signed.Alert.Hash()
	h.knownAlerts[hash] = signed
	h.knownRmcs[acc] = hash
	return hash
}

// OnOwnAlert is the self-issued path: mark the forker, sign the alert,
// register RMC for (self, forker), and return the message for the
// caller to broadcast. It does not itself send anything.
func (h *AlertHandler) OnOwnAlert(alert Alert) (UncheckedSignedAlert, Recipient, Hash) {
	forker := alert.Forker()
	h.knownForkers[forker] = alert.Proof
	signed := SignAlert(h.kc, alert)
	hash := h.rmcAlert(signed, accusation{sender: alert.Sender, forker: forker})
	return signed.unchecked(), RecipientEveryone, hash
}

// OnNetworkAlert validates and registers an alert received from a peer.
func (h *AlertHandler) OnNetworkAlert(unchecked UncheckedSignedAlert) (*ForkingNotification, Hash, error) {
	if !unchecked.VerifySignature(h.kc) {
		return nil, Hash{}, ErrIncorrectlySignedAlert
	}
	forker, err := h.verifyFork(&unchecked.Alert.Proof)
	if err != nil {
		return nil, Hash{}, err
	}

	acc := accusation{sender: unchecked.Alert.Sender, forker: forker}
	signed := unchecked.checked()

	if _, already := h.knownRmcs[acc]; already {
		hash := h.rmcAlert(signed, acc)
		return nil, hash, ErrRepeatedAlert
	}

	var notification *ForkingNotification
	if _, known := h.knownForkers[forker]; !known {
		h.knownForkers[forker] = unchecked.Alert.Proof
		notification = &ForkingNotification{Kind: ForkingForker, Proof: unchecked.Alert.Proof}
	}

	hash := h.rmcAlert(signed, acc)
	return notification, hash, nil
}

// OnMessage dispatches an incoming AlertMessage.
func (h *AlertHandler) OnMessage(msg AlertMessage) (*AlertMessage, *ForkingNotification, error) {
	switch msg.Kind {
	case MsgForkAlert:
		notification, _, err := h.OnNetworkAlert(msg.ForkAlert)
		return nil, notification, err

	case MsgRmcMessage:
		hash := rmcMessageSubjectHash(msg.RmcMsg)
		signed, known := h.knownAlerts[hash]
		if !known {
			reply := &AlertMessage{
				Kind:        MsgAlertRequest,
				RequestNode: msg.RmcFrom,
				RequestHash: hash,
			}
			return reply, nil, nil
		}
		acc := accusation{sender: signed.Alert.Sender, forker: signed.Alert.Forker()}
		isCurrent := h.knownRmcs[acc] == hash
		isComplete := msg.RmcMsg.Complete != nil
		if isCurrent || isComplete {
			reply := msg
			return &reply, nil, nil
		}
		return nil, nil, nil

	case MsgAlertRequest:
		signed, known := h.knownAlerts[msg.RequestHash]
		if !known {
			return nil, nil, ErrUnknownAlertRequest
		}
		reply := &AlertMessage{Kind: MsgForkAlert, ForkAlert: signed.unchecked()}
		return reply, nil, nil
	}
	return nil, nil, nil
}

func rmcMessageSubjectHash(m RmcMessage) Hash {
	if m.Complete != nil {
		return m.Complete.Hash
	}
	if m.Share != nil {
		return m.Share.Hash
	}
	return Hash{}
}

// AlertConfirmed is called once RMC reports h as Multisigned. It
// re-pins known_rmcs, re-verifies the commitment, and emits the
// forker's alert-certified units for consensus ingestion.
func (h *AlertHandler) AlertConfirmed(multisignedHash Hash) (ForkingNotification, error) {
	signed, known := h.knownAlerts[multisignedHash]
	if !known {
		return ForkingNotification{}, ErrUnknownAlertRMC
	}
	acc := accusation{sender: signed.Alert.Sender, forker: signed.Alert.Forker()}
	h.knownRmcs[acc] = multisignedHash

	if err := h.verifyCommitment(&signed.Alert); err != nil {
		return ForkingNotification{}, err
	}
	return ForkingNotification{Kind: ForkingUnits, Units: signed.Alert.LegitUnits}, nil
}
