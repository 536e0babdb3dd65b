// Package process supervises a local QLC+ instance.
//
// When the controller runs on the same host as the bridge, the bridge can
// own its lifecycle: start qlcplus headless with the web interface enabled,
// restart it with exponential backoff when it exits, and kill it when the
// health check (normally "is the WebSocket client connected?") fails
// repeatedly.
//
// Features:
//   - Graceful stop: SIGTERM to the process group, SIGKILL after a timeout
//   - Backoff that resets once a run has been stable for a while
//   - Line-by-line capture of stdout/stderr into the bridge log
//
// Example usage:
//
//	sup := process.NewSupervisor(process.Config{
//	    Name:   "qlcplus",
//	    Binary: "/usr/bin/qlcplus",
//	    Args:   []string{"--nogui", "--web", "--operate"},
//	    HealthCheck: func(ctx context.Context) error {
//	        if client.State() != qlc.StateConnected {
//	            return errors.New("controller not connected")
//	        }
//	        return nil
//	    },
//	})
//	if err := sup.Start(ctx); err != nil {
//	    return err
//	}
//	defer sup.Stop()
package process
