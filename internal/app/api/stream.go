package api

import (
	"net/http"

	"voicestudio/pkg/slg"
	"voicestudio/pkg/ws"
)

// wsHandler streams progress events to the client until it disconnects.
func (api *API) wsHandler(w http.ResponseWriter, r *http.Request) {
	logger := slg.GetSlog(r.Context())

	if api.events == nil {
		http.Error(w, "progress stream is disabled", http.StatusNotFound)
		return
	}

	wsConn, err := ws.Upgrader.Upgrade(w, r, nil)
	if err != nil {
		logger.Error("failed to upgrade progress websocket connection", "err", err)
		return
	}

	wsClient, done := ws.NewClient(wsConn, logger)
	defer func() {
		logger.Info("closing progress websocket connection")
		wsClient.Close()
	}()

	go wsClient.DrainRead()

	events, err := api.events.Subscribe(r.Context())
	if err != nil {
		logger.Error("failed to subscribe to progress events", "err", err)
		return
	}

	if err := wsClient.SendJSON(map[string]any{
		"type":       "hello",
		"converting": api.orch.Converting(),
		"segments":   api.orch.Segments(),
	}); err != nil {
		return
	}

	for {
		select {
		case <-done:
			return
		case <-r.Context().Done():
			return
		case ev, ok := <-events:
			if !ok {
				return
			}
			if err := wsClient.SendJSON(ev); err != nil {
				return
			}
		}
	}
}
