package replay

// OnNewScript is called by the engine whenever a script is compiled.
func (s *Session) OnNewScript(script Script) {
	if s.threadEventsDisallowed > 0 {
		// compiled on behalf of a debugger evaluation
		return
	}
	if !s.IsEligible(script) {
		return
	}

	added := s.registerScript(script)
	if source := script.Source(); source != nil && s.sources.ID(source) == 0 {
		s.sources.Add(source)
	}

	// One increment per event, however many scripts it registered, so that
	// consecutive events never share a progress value.
	s.advanceProgress()

	s.logger.WithField("url", script.URL()).WithField("scripts", added).Debug("New script")

	s.hitGlobalHandler(PositionNewScript)
	s.installPending()
}

// registerScript registers script and all of its nested child scripts and
// returns how many were new.
func (s *Session) registerScript(script Script) int {
	added := 0
	stack := []Script{script}
	for len(stack) > 0 {
		next := stack[len(stack)-1]
		stack = stack[:len(stack)-1]
		if next == nil || s.scripts.ID(next) != 0 {
			continue
		}
		s.scripts.Add(next)
		added++

		children := next.ChildScripts()
		// push in reverse so children get ids in source order
		for i := len(children) - 1; i >= 0; i-- {
			stack = append(stack, children[i])
		}
	}
	return added
}

// ScriptData is the wire description of a registered script.
type ScriptData struct {
	ID           int    `json:"id"`
	SourceID     int    `json:"sourceId"`
	StartLine    int    `json:"startLine"`
	LineCount    int    `json:"lineCount"`
	SourceStart  int    `json:"sourceStart"`
	SourceLength int    `json:"sourceLength"`
	DisplayName  string `json:"displayName,omitempty"`
	URL          string `json:"url"`
}

func (s *Session) scriptData(id int) (ScriptData, error) {
	script, ok := s.scripts.Object(id)
	if !ok {
		return ScriptData{}, ErrUnknownScript
	}
	return ScriptData{
		ID:           id,
		SourceID:     s.sources.ID(script.Source()),
		StartLine:    script.StartLine(),
		LineCount:    script.LineCount(),
		SourceStart:  script.SourceStart(),
		SourceLength: script.SourceLength(),
		DisplayName:  script.DisplayName(),
		URL:          script.URL(),
	}, nil
}

// Scripts returns the descriptions of all registered scripts in id order.
func (s *Session) Scripts() []ScriptData {
	rv := make([]ScriptData, 0, s.scripts.Len())
	s.scripts.ForEach(func(id int, _ Script) {
		data, err := s.scriptData(id)
		if err == nil {
			rv = append(rv, data)
		}
	})
	return rv
}

// SourceData is the wire description of a registered source.
type SourceData struct {
	ID                   int    `json:"id"`
	Text                 string `json:"text"`
	URL                  string `json:"url"`
	DisplayURL           string `json:"displayURL,omitempty"`
	ElementAttributeName string `json:"elementAttributeName,omitempty"`
	IntroductionScript   int    `json:"introductionScript"`
	IntroductionOffset   *int   `json:"introductionOffset,omitempty"`
	IntroductionType     string `json:"introductionType,omitempty"`
	SourceMapURL         string `json:"sourceMapURL,omitempty"`
}

func (s *Session) sourceData(id int) (SourceData, error) {
	source, ok := s.sources.Object(id)
	if !ok {
		return SourceData{}, ErrUnknownSource
	}
	data := SourceData{
		ID:                   id,
		Text:                 source.Text(),
		URL:                  source.URL(),
		DisplayURL:           source.DisplayURL(),
		ElementAttributeName: source.ElementAttributeName(),
		IntroductionType:     source.IntroductionType(),
		SourceMapURL:         source.SourceMapURL(),
	}
	if intro := source.IntroductionScript(); intro != nil {
		data.IntroductionScript = s.scripts.ID(intro)
	}
	if data.IntroductionScript != 0 {
		offset := source.IntroductionOffset()
		data.IntroductionOffset = &offset
	}
	return data, nil
}
