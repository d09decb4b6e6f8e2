package turn

// Flags are the pending states of a conversation's current turn.
type Flags struct {
	Loading         bool `json:"loading"`
	GeneratingImage bool `json:"generatingImage"`
	PerformingOCR   bool `json:"performingOcr"`
}

type state struct {
	flags    Flags
	inFlight bool
}

// Flags returns a snapshot for the conversation.
func (p *Pipeline) Flags(conversationID string) Flags {
	p.mu.Lock()
	defer p.mu.Unlock()
	if st, ok := p.states[conversationID]; ok {
		return st.flags
	}
	return Flags{}
}

// Forget drops the state of a deleted conversation.
func (p *Pipeline) Forget(conversationID string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if st, ok := p.states[conversationID]; ok && !st.inFlight {
		delete(p.states, conversationID)
	}
}

func (p *Pipeline) begin(conversationID string) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	st, ok := p.states[conversationID]
	if !ok {
		st = &state{}
		p.states[conversationID] = st
	}
	if st.inFlight {
		return ErrTurnInFlight
	}
	st.inFlight = true
	st.flags = Flags{Loading: true}
	return nil
}

// finish clears every flag, whichever branch ran.
func (p *Pipeline) finish(conversationID string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if st, ok := p.states[conversationID]; ok {
		st.inFlight = false
		st.flags = Flags{}
	}
}

func (p *Pipeline) setFlag(conversationID string, set func(*Flags)) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if st, ok := p.states[conversationID]; ok {
		set(&st.flags)
	}
}
