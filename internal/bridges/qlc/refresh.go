package qlc

import (
	"context"
	"fmt"
	"strconv"
	"time"
)

// Refresh re-fetches the full catalog from the controller.
//
// Functions are listed and classified one at a time, then widgets, so at
// most one query is outstanding. The result replaces the mirror. Concurrent
// callers share a single refresh; ctx only bounds the caller's wait.
//
// Returns:
//   - Catalog: the new catalog
//   - error: ErrNotConnected, ErrClosed or the first failed list query
func (c *Client) Refresh(ctx context.Context) (Catalog, error) {
	s, err := c.currentSession()
	if err != nil {
		return Catalog{}, err
	}
	return c.refresh(ctx, s)
}

// refresh runs (or joins) the refresh for session s. The work is bound to
// the session and is cancelled when it detaches.
func (c *Client) refresh(ctx context.Context, s *session) (Catalog, error) {
	key := "refresh-" + strconv.FormatUint(s.id, 10)
	ch := c.refreshes.DoChan(key, func() (any, error) {
		return c.runRefresh(s)
	})

	select {
	case res := <-ch:
		if res.Err != nil {
			return Catalog{}, res.Err
		}
		cat, _ := res.Val.(Catalog)
		return cat.Clone(), nil
	case <-ctx.Done():
		return Catalog{}, ctx.Err()
	}
}

func (c *Client) runRefresh(s *session) (Catalog, error) {
	ctx := s.ctx
	start := time.Now()
	c.refreshesTotal.Add(1)

	functions, err := c.fetchEntities(ctx, s, KindFunction)
	if err != nil {
		c.refreshFailures.Add(1)
		return Catalog{}, err
	}
	widgets, err := c.fetchEntities(ctx, s, KindWidget)
	if err != nil {
		c.refreshFailures.Add(1)
		return Catalog{}, err
	}

	cat := Catalog{Functions: functions, Widgets: widgets}
	c.mirror.ReplaceCatalog(cat)
	c.emit(Event{Type: EventCatalogReplaced, Functions: len(functions), Widgets: len(widgets)})
	c.logInfo("catalog refreshed",
		"session", s.id,
		"functions", len(functions),
		"widgets", len(widgets),
		"duration", time.Since(start).String(),
	)

	c.mu.Lock()
	skipStatus := c.cfg.SkipStatusQuery
	c.mu.Unlock()

	// Replacing the catalog dropped every known status; query them again.
	if !skipStatus {
		c.queryStatuses(ctx, s, functions)
	}
	return c.mirror.Current(), nil
}

// fetchEntities lists, classifies and reconciles one entity kind.
func (c *Client) fetchEntities(ctx context.Context, s *session, kind EntityKind) ([]Entity, error) {
	listVerb, typeVerb := VerbGetFunctionsList, VerbGetFunctionType
	if kind == KindWidget {
		listVerb, typeVerb = VerbGetWidgetsList, VerbGetWidgetType
	}

	reply, err := c.query(ctx, s, Encode(Namespace, listVerb))
	if err != nil {
		return nil, fmt.Errorf("%s: %w", listVerb, err)
	}
	entities := BuildCatalog(kind, ParsePairList(reply))

	res := EnrichClassification(ctx, entities, c.classifier(s, kind, typeVerb))
	if res.Cancelled {
		return nil, fmt.Errorf("%s: %w", typeVerb, ctx.Err())
	}
	if res.Failed > 0 {
		c.logDebug("some entities left unclassified",
			"kind", string(kind), "failed", res.Failed, "classified", res.Classified, "last_error", res.LastErr)
	}

	reconcile(entities)
	return entities, nil
}

// classifier answers from the cache first and queries the controller otherwise.
func (c *Client) classifier(s *session, kind EntityKind, typeVerb string) ClassifyFunc {
	return func(ctx context.Context, e Entity) (string, error) {
		if class, ok := c.cache.Get(kind, e.ID); ok && class != "" {
			return class, nil
		}
		reply, err := c.query(ctx, s, Encode(Namespace, typeVerb, e.ID))
		if err != nil {
			return "", err
		}
		class := ParseTypeReply(reply, typeVerb)
		if class != "" {
			c.cache.Put(kind, e.ID, class)
		}
		return class, nil
	}
}

// queryStatuses asks for each function's status and applies the answers.
func (c *Client) queryStatuses(ctx context.Context, s *session, functions []Entity) {
	for _, f := range functions {
		if ctx.Err() != nil {
			return
		}
		if _, err := c.queryFunctionStatus(ctx, s, f.ID); err != nil {
			c.logDebug("function status query failed", "id", f.ID, "error", err)
		}
	}
}

// QueryFunctionStatus asks the controller for one function's status and
// applies it to the mirror.
func (c *Client) QueryFunctionStatus(ctx context.Context, functionID string) (string, error) {
	return c.queryFunctionStatus(ctx, nil, functionID)
}

func (c *Client) queryFunctionStatus(ctx context.Context, s *session, functionID string) (string, error) {
	reply, err := c.query(ctx, s, Encode(Namespace, VerbGetFunctionStatus, functionID))
	if err != nil {
		return "", err
	}
	status := ParseTypeReply(reply, VerbGetFunctionStatus)
	if status == "" {
		return "", fmt.Errorf("%w: no status in reply for function %s", ErrInvalidFrame, functionID)
	}
	c.applyFunctionStatus(functionID, status)
	return status, nil
}
