// Package localindex implements a reference, in-process index server: it
// accepts capacity mutations, keeps a simple adjacency graph per currency,
// and answers route queries with a capacity-weighted breadth-first search.
// Grounded on channeldb/graph.go's ForEachChannel/ForEachNode adjacency
// model, generalized from Bitcoin channel capacity to signed credit
// capacity and widened from "does an edge exist" to "does this edge carry
// at least MinAmount".
package localindex

import (
	"container/list"
	"sync"

	"github.com/creditmesh/meshnode/indexclient"
	"github.com/creditmesh/meshnode/merr"
	"github.com/creditmesh/meshnode/meshtypes"
)

type edge struct {
	to       meshtypes.PublicKey
	capacity meshtypes.Uint128
}

// Server is a single-process index server suitable for tests and small
// deployments: one adjacency list per currency, rebuilt incrementally as
// SendMutations reports are applied.
type Server struct {
	mu    sync.Mutex
	graph map[meshtypes.Currency]map[meshtypes.PublicKey][]edge
}

// New creates an empty index server.
func New() *Server {
	return &Server{graph: make(map[meshtypes.Currency]map[meshtypes.PublicKey][]edge)}
}

var _ indexclient.Client = (*Server)(nil)

// SendMutations applies capacity reports from a single node about its own
// open channels.
func (s *Server) SendMutations(from meshtypes.PublicKey, mutations []indexclient.IndexMutation) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, m := range mutations {
		adj, ok := s.graph[m.Currency]
		if !ok {
			adj = make(map[meshtypes.PublicKey][]edge)
			s.graph[m.Currency] = adj
		}

		edges := adj[from]
		idx := -1
		for i, e := range edges {
			if e.to == m.Friend {
				idx = i
				break
			}
		}

		if m.Removed {
			if idx >= 0 {
				adj[from] = append(edges[:idx], edges[idx+1:]...)
			}
			continue
		}

		if idx >= 0 {
			edges[idx].capacity = m.Capacity
		} else {
			adj[from] = append(edges, edge{to: m.Friend, capacity: m.Capacity})
		}
	}
	return nil
}

// RequestRoutes returns up to one route from query.Source to query.Dest
// found by BFS over edges carrying at least query.MinAmount, each node
// visited at most once. Edges are directional: from a node the search
// follows only the edges that node itself reported via SendMutations, so
// an edge reported only by its far endpoint is not used.
func (s *Server) RequestRoutes(query indexclient.CapacityQuery) ([]meshtypes.Route, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	adj, ok := s.graph[query.Currency]
	if !ok {
		return nil, merr.New(merr.KindInvalidRoute, "no graph known for currency %s", query.Currency)
	}

	type node struct {
		pk   meshtypes.PublicKey
		path meshtypes.Route
	}

	visited := map[meshtypes.PublicKey]bool{query.Source: true}
	queue := list.New()
	queue.PushBack(node{pk: query.Source, path: meshtypes.Route{query.Source}})

	for queue.Len() > 0 {
		front := queue.Remove(queue.Front()).(node)
		if front.pk == query.Dest && len(front.path) >= 2 {
			return []meshtypes.Route{front.path}, nil
		}

		for _, e := range adj[front.pk] {
			if visited[e.to] {
				continue
			}
			if e.capacity.Cmp(query.MinAmount) < 0 {
				continue
			}
			visited[e.to] = true
			nextPath := make(meshtypes.Route, len(front.path), len(front.path)+1)
			copy(nextPath, front.path)
			nextPath = append(nextPath, e.to)
			queue.PushBack(node{pk: e.to, path: nextPath})
		}
	}

	return nil, merr.New(merr.KindInvalidRoute, "no route from %s to %s with capacity %s", query.Source, query.Dest, query.MinAmount)
}
