package mgmt

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/Logan007/n3n/internal/peer"
)

type rpcMethod struct {
	mutating bool
	handle   func(*Server, json.RawMessage) (any, error)
}

var methodTable = map[string]rpcMethod{
	"get_communities":     {handle: (*Server).getCommunities},
	"get_edges":           {handle: (*Server).getEdges},
	"get_supernodes":      {handle: (*Server).getSupernodes},
	"get_info":            {handle: (*Server).getInfo},
	"get_packetstats":     {handle: (*Server).getPacketstats},
	"get_timestamps":      {handle: (*Server).getTimestamps},
	"get_verbose":         {handle: (*Server).getVerbose},
	"set_verbose":         {mutating: true, handle: (*Server).setVerbose},
	"reload_communities":  {mutating: true, handle: (*Server).reloadCommunities},
	"stop":                {mutating: true, handle: (*Server).stopDaemon},
	"post.test":           {handle: (*Server).postTest},
	"help":                {handle: (*Server).help},
	"help.events":         {handle: (*Server).helpEvents},
}

type communityInfo struct {
	Name         string `json:"name"`
	IsFederation bool   `json:"is_federation"`
	Joinable     bool   `json:"joinable"`
	AutoIPNet    string `json:"auto_ip_net"`
	HeaderEnc    int    `json:"header_encryption_mode"`
	Edges        int    `json:"edges"`
}

func (s *Server) getCommunities(_ json.RawMessage) (any, error) {
	var out []communityInfo
	for _, c := range s.Reg.Communities() {
		out = append(out, communityInfo{
			Name:         c.Name,
			IsFederation: c.IsFederation,
			Joinable:     c.Joinable,
			AutoIPNet:    c.AutoIPNet.String(),
			HeaderEnc:    int(c.HeaderEnc),
			Edges:        c.Edges.Len(),
		})
	}
	return out, nil
}

type edgeInfo struct {
	Community string `json:"community"`
	MAC       string `json:"mac"`
	Socket    string `json:"socket"`
	AutoIP    string `json:"auto_ip"`
	LastSeen  time.Time `json:"last_seen"`
	Version   string `json:"version"`
	Tag       string `json:"tag"` // sn | p2p | pSp
}

func (s *Server) getEdges(_ json.RawMessage) (any, error) {
	var out []edgeInfo
	for _, c := range s.Reg.Communities() {
		for _, r := range c.Edges.Snapshot() {
			out = append(out, edgeInfo{
				Community: c.Name,
				MAC:       macString(r.MAC),
				Socket:    r.Socket.String(),
				AutoIP:    r.AutoIP.String(),
				LastSeen:  r.LastSeen,
				Version:   r.Version,
				Tag:       edgeTag(c.IsFederation, r),
			})
		}
	}
	return out, nil
}

func edgeTag(isFederation bool, r peer.Record) string {
	switch {
	case isFederation:
		return "pSp" // peer supernode
	case !r.LastP2P.IsZero():
		return "p2p"
	default:
		return "sn"
	}
}

type supernodeInfo struct {
	MAC                string   `json:"mac"`
	Socket             string   `json:"socket"`
	SelectionCriterion float64  `json:"selection_criterion"`
	Communities        []string `json:"communities"`
	Version            string   `json:"version"`
}

func (s *Server) getSupernodes(_ json.RawMessage) (any, error) {
	federation := s.Reg.EnsureFederation()
	var out []supernodeInfo
	for _, r := range federation.Edges.Snapshot() {
		out = append(out, supernodeInfo{
			MAC:                macString(r.MAC),
			Socket:             r.Socket.String(),
			SelectionCriterion: r.SelectionCriterion,
			Communities:        r.Communities,
			Version:            r.Version,
		})
	}
	return out, nil
}

type infoResult struct {
	Version   string `json:"version"`
	BuildDate string `json:"build_date"`
	Role      string `json:"role"`
	MAC       string `json:"mac"`
	Socket    string `json:"socket"`
	Uptime    string `json:"uptime"`
}

func (s *Server) getInfo(_ json.RawMessage) (any, error) {
	return infoResult{
		Version:   s.Cfg.SnVersionString,
		BuildDate: s.BuildDate,
		Role:      "supernode",
		MAC:       macString(s.SelfMAC),
		Socket:    s.SelfSocket.String(),
		Uptime:    time.Since(s.StartedAt).String(),
	}, nil
}

func (s *Server) getPacketstats(_ json.RawMessage) (any, error) {
	return s.Counters.Snapshot(), nil
}

type timestampsResult struct {
	StartedAt time.Time `json:"started_at"`
	Now       time.Time `json:"now"`
}

func (s *Server) getTimestamps(_ json.RawMessage) (any, error) {
	return timestampsResult{StartedAt: s.StartedAt, Now: time.Now()}, nil
}

func (s *Server) getVerbose(_ json.RawMessage) (any, error) {
	return map[string]int32{"verbose": s.Log.Verbosity()}, nil
}

type verboseParams struct {
	Level int32 `json:"level"`
}

func (s *Server) setVerbose(raw json.RawMessage) (any, error) {
	var p verboseParams
	if err := json.Unmarshal(raw, &p); err != nil {
		return nil, fmt.Errorf("invalid params: %w", err)
	}
	s.Log.SetVerbosity(p.Level)
	return map[string]int32{"verbose": p.Level}, nil
}

func (s *Server) reloadCommunities(_ json.RawMessage) (any, error) {
	if err := s.Reg.ReloadACL(s.Cfg.CommunityFile); err != nil {
		return nil, err
	}
	return map[string]bool{"ok": true}, nil
}

func (s *Server) stopDaemon(_ json.RawMessage) (any, error) {
	result := map[string]bool{"ok": true}
	if s.Stop != nil {
		// Deferred so the reply is written before the process begins
		// shutting down.
		go func() {
			time.Sleep(50 * time.Millisecond)
			s.Stop()
		}()
	}
	return result, nil
}

func (s *Server) postTest(_ json.RawMessage) (any, error) {
	ev := map[string]any{"time": time.Now(), "kind": "test"}
	s.Broker.Publish("test", ev)
	return map[string]bool{"ok": true}, nil
}

func (s *Server) help(_ json.RawMessage) (any, error) {
	names := make([]string, 0, len(methodTable))
	for name := range methodTable {
		names = append(names, name)
	}
	return names, nil
}

func (s *Server) helpEvents(_ json.RawMessage) (any, error) {
	return []string{"debug", "peer", "test"}, nil
}

func macString(m peer.MAC) string {
	return fmt.Sprintf("%02x:%02x:%02x:%02x:%02x:%02x", m[0], m[1], m[2], m[3], m[4], m[5])
}
