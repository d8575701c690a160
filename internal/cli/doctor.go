package cli

import (
	"fmt"
	"io"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/tOgg1/bishma/internal/conversation"
	"github.com/tOgg1/bishma/internal/logging"
	"github.com/tOgg1/bishma/internal/session"
	"github.com/tOgg1/bishma/internal/snapshot"
)

func newDoctorCmd(a *app) *cobra.Command {
	var showConfig bool
	cmd := &cobra.Command{
		Use:   "doctor",
		Short: "Check configuration, credentials and connectivity",
		RunE: func(cmd *cobra.Command, args []string) error {
			out := a.out
			problems := 0

			if used := a.loader.ConfigFileUsed(); used != "" {
				fmt.Fprintf(out, "config:    %s\n", used)
			} else {
				fmt.Fprintln(out, "config:    (defaults and environment)")
			}
			fmt.Fprintf(out, "data dir:  %s\n", a.cfg.Global.DataDir)
			fmt.Fprintf(out, "snapshots: %s\n", a.cfg.SnapshotDir())

			if showConfig {
				if err := dumpSettings(out, a.loader.Viper().AllSettings()); err != nil {
					return err
				}
			}

			if err := a.cfg.CheckCredentials(); err != nil {
				problems++
				fmt.Fprintf(out, "credentials: FAIL\n%s\n", err)
			} else {
				fmt.Fprintln(out, "credentials: ok")
			}

			rt, err := a.openRuntime(cmd.Context())
			if err != nil {
				fmt.Fprintf(out, "gateway:   FAIL (%v)\n", err)
				return fmt.Errorf("doctor found %d problem(s)", problems+1)
			}
			defer rt.Close()

			// A scratch session, so checking never touches saved state.
			sess, err := session.Open(session.Options{ID: "doctor", Snapshots: snapshot.NewMemoryStore()})
			if err != nil {
				return err
			}
			defer sess.Close()
			orch := conversation.New(sess, rt.extractor, rt.gateway,
				conversation.WithExtractorTimeout(a.cfg.Extractor.Timeout),
				conversation.WithGatewayTimeout(a.cfg.Gateway.Timeout),
			)
			conns := orch.TestConnections(cmd.Context())
			fmt.Fprintf(out, "gateway:   %s (%s)\n", okFail(conns.Gateway), conns.Backend)
			fmt.Fprintf(out, "extractor: %s (%s)\n", okFail(conns.Extractor), a.cfg.Extractor.Provider)
			if !conns.Gateway {
				problems++
			}
			if !conns.Extractor {
				problems++
			}

			if problems > 0 {
				return fmt.Errorf("doctor found %d problem(s)", problems)
			}
			return nil
		},
	}
	cmd.Flags().BoolVar(&showConfig, "show-config", false, "print effective settings with secrets masked")
	return cmd
}

func dumpSettings(w io.Writer, settings map[string]any) error {
	data, err := yaml.Marshal(logging.RedactMap(settings))
	if err != nil {
		return fmt.Errorf("encode settings: %w", err)
	}
	fmt.Fprintln(w, "---")
	_, err = w.Write(data)
	return err
}

func okFail(ok bool) string {
	if ok {
		return "ok"
	}
	return "FAIL"
}
