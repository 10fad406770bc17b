// Command vrpc-remote is a thin interactive/one-shot command-line client
// for manually exercising a running vrpc Agent — the same role a
// grpcurl/mosquitto_pub-style tool plays for this protocol.
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/vrpc-go/vrpc/config"
	"github.com/vrpc-go/vrpc/remote"
	"github.com/vrpc-go/vrpc/transport"
)

type flags struct {
	configPath string
	broker     string
	domain     string
	agentName  string
	timeoutMS  int
}

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	f := &flags{}

	root := &cobra.Command{
		Use:   "vrpc-remote",
		Short: "vrpc-remote — command-line client for vrpc agents",
	}

	root.PersistentFlags().StringVar(&f.configPath, "config", "", "path to a vrpc config YAML file")
	root.PersistentFlags().StringVar(&f.broker, "broker", "", "broker URL")
	root.PersistentFlags().StringVar(&f.domain, "domain", "", "domain")
	root.PersistentFlags().StringVar(&f.agentName, "agent", "", "agent name")
	root.PersistentFlags().IntVar(&f.timeoutMS, "timeout", 0, "call timeout in milliseconds")

	root.AddCommand(newCallStaticCmd(f))
	root.AddCommand(newCreateCmd(f))
	root.AddCommand(newCallCmd(f))
	root.AddCommand(newDeleteCmd(f))
	root.AddCommand(newDiscoverCmd(f))
	return root
}

func connectRemote(ctx context.Context, f *flags) (*remote.Remote, error) {
	cfg, err := config.Load(f.configPath)
	if err != nil {
		return nil, err
	}
	cfg = config.ApplyEnv(cfg)
	if f.broker != "" {
		cfg.Broker = f.broker
	}
	if f.domain != "" {
		cfg.Domain = f.domain
	}
	if f.agentName != "" {
		cfg.Agent = f.agentName
	}
	if f.timeoutMS > 0 {
		cfg.TimeoutMS = f.timeoutMS
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	hostname, _ := os.Hostname()
	session := transport.NewSession(transport.Options{
		BrokerURL: cfg.Broker,
		ClientID:  transport.NewClientID("vrpc-remote"),
		Username:  cfg.AuthUsername(),
		Password:  cfg.AuthPassword(),
		Logger:    zap.NewNop(),
	})

	r, err := remote.New(remote.Options{
		Domain:   cfg.Domain,
		Agent:    cfg.Agent,
		Hostname: hostname,
		Session:  session,
		Timeout:  cfg.Timeout(),
	})
	if err != nil {
		return nil, err
	}
	if err := r.Connect(ctx); err != nil {
		return nil, err
	}
	return r, nil
}

// parseArgsJSON parses a comma-separated list of JSON scalars/values
// ("1,\"two\",true") into a []any for method arguments.
func parseArgsJSON(raw string) ([]any, error) {
	if raw == "" {
		return nil, nil
	}
	parts := strings.Split(raw, ",")
	out := make([]any, 0, len(parts))
	for _, p := range parts {
		var v any
		if err := json.Unmarshal([]byte(p), &v); err != nil {
			return nil, fmt.Errorf("parse arg %q: %w", p, err)
		}
		out = append(out, v)
	}
	return out, nil
}

func newCallStaticCmd(f *flags) *cobra.Command {
	var class, method, args string
	cmd := &cobra.Command{
		Use:   "call-static",
		Short: "Invoke a static method on a class",
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx, cancel := context.WithTimeout(cmd.Context(), 30*time.Second)
			defer cancel()
			r, err := connectRemote(ctx, f)
			if err != nil {
				return err
			}
			defer r.End()
			if err := r.Connected(ctx); err != nil {
				return err
			}
			parsed, err := parseArgsJSON(args)
			if err != nil {
				return err
			}
			result, err := r.CallStatic(ctx, f.domain, f.agentName, class, method, parsed)
			if err != nil {
				return err
			}
			fmt.Println(string(result))
			return nil
		},
	}
	cmd.Flags().StringVar(&class, "class", "", "class name")
	cmd.Flags().StringVar(&method, "method", "", "static method name")
	cmd.Flags().StringVar(&args, "args", "", "comma-separated JSON arguments")
	return cmd
}

func newCreateCmd(f *flags) *cobra.Command {
	var class, name, args string
	cmd := &cobra.Command{
		Use:   "create",
		Short: "Create a (optionally named) instance and print its instance id",
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx, cancel := context.WithTimeout(cmd.Context(), 30*time.Second)
			defer cancel()
			r, err := connectRemote(ctx, f)
			if err != nil {
				return err
			}
			defer r.End()
			if err := r.Connected(ctx); err != nil {
				return err
			}
			parsed, err := parseArgsJSON(args)
			if err != nil {
				return err
			}

			var proxy *remote.Proxy
			if name != "" {
				proxy, err = r.CreateNamed(ctx, f.domain, f.agentName, class, name, parsed...)
			} else {
				proxy, err = r.Create(ctx, f.domain, f.agentName, class, parsed...)
			}
			if err != nil {
				return err
			}
			fmt.Println(proxy.InstanceID())
			return nil
		},
	}
	cmd.Flags().StringVar(&class, "class", "", "class name")
	cmd.Flags().StringVar(&name, "name", "", "instance name (optional)")
	cmd.Flags().StringVar(&args, "args", "", "comma-separated JSON constructor arguments")
	return cmd
}

func newCallCmd(f *flags) *cobra.Command {
	var class, instance, method, args string
	cmd := &cobra.Command{
		Use:   "call",
		Short: "Invoke a member method on an existing instance",
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx, cancel := context.WithTimeout(cmd.Context(), 30*time.Second)
			defer cancel()
			r, err := connectRemote(ctx, f)
			if err != nil {
				return err
			}
			defer r.End()
			if err := r.Connected(ctx); err != nil {
				return err
			}

			proxy, err := r.GetInstance(ctx, f.domain, f.agentName, class, instance)
			if err != nil {
				return err
			}
			parsed, err := parseArgsJSON(args)
			if err != nil {
				return err
			}
			result, err := proxy.Call(ctx, method, parsed...)
			if err != nil {
				return err
			}
			fmt.Println(string(result))
			return nil
		},
	}
	cmd.Flags().StringVar(&class, "class", "", "class name")
	cmd.Flags().StringVar(&instance, "instance", "", "instance name or id")
	cmd.Flags().StringVar(&method, "method", "", "member method name")
	cmd.Flags().StringVar(&args, "args", "", "comma-separated JSON arguments")
	return cmd
}

func newDeleteCmd(f *flags) *cobra.Command {
	var class, instance string
	cmd := &cobra.Command{
		Use:   "delete",
		Short: "Delete an instance",
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx, cancel := context.WithTimeout(cmd.Context(), 30*time.Second)
			defer cancel()
			r, err := connectRemote(ctx, f)
			if err != nil {
				return err
			}
			defer r.End()
			if err := r.Connected(ctx); err != nil {
				return err
			}
			return r.Delete(ctx, f.domain, f.agentName, class, instance)
		},
	}
	cmd.Flags().StringVar(&class, "class", "", "class name")
	cmd.Flags().StringVar(&instance, "instance", "", "instance name or id")
	return cmd
}

func newDiscoverCmd(f *flags) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "discover",
		Short: "Print domains/agents/classes visible after the settle window",
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx, cancel := context.WithTimeout(cmd.Context(), 30*time.Second)
			defer cancel()
			r, err := connectRemote(ctx, f)
			if err != nil {
				return err
			}
			defer r.End()

			domains, err := r.AvailableDomains(ctx)
			if err != nil {
				return err
			}
			for _, d := range domains {
				agents, err := r.AvailableAgents(ctx, d)
				if err != nil {
					return err
				}
				for _, a := range agents {
					classes, err := r.AvailableClasses(ctx, d, a)
					if err != nil {
						return err
					}
					fmt.Printf("%s/%s: %s\n", d, a, strings.Join(classes, ", "))
				}
			}
			return nil
		},
	}
	return cmd
}
