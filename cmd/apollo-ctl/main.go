// apollo-ctl is an operator CLI for talking to a running apollod over
// its HTTP control surface: attaching model packages, triggering a
// flush, and inspecting region state.
package main

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"

	"github.com/go-resty/resty/v2"
	"github.com/spf13/cobra"
)

var daemonAddr string

func main() {
	root := &cobra.Command{
		Use:   "apollo-ctl",
		Short: "Operate a running apollod instance",
	}
	root.PersistentFlags().StringVar(&daemonAddr, "addr", "http://localhost:8089", "apollod HTTP control address")

	root.AddCommand(newAttachModelCmd())
	root.AddCommand(newFlushCmd())
	root.AddCommand(newInspectRegionCmd())

	if err := root.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func newAttachModelCmd() *cobra.Command {
	var fromFile string
	var fromURL string

	cmd := &cobra.Command{
		Use:   "attach-model",
		Short: "Attach a JSON model package to its targeted regions",
		RunE: func(cmd *cobra.Command, args []string) error {
			var body []byte
			var err error

			switch {
			case fromURL != "":
				client := resty.New()
				resp, fetchErr := client.R().Get(fromURL)
				if fetchErr != nil {
					return fmt.Errorf("fetching model package from %s: %w", fromURL, fetchErr)
				}
				if resp.IsError() {
					return fmt.Errorf("fetching model package from %s: status %s", fromURL, resp.Status())
				}
				body = resp.Body()
			case fromFile != "":
				body, err = os.ReadFile(fromFile)
				if err != nil {
					return fmt.Errorf("reading %s: %w", fromFile, err)
				}
			default:
				body, err = io.ReadAll(os.Stdin)
				if err != nil {
					return fmt.Errorf("reading stdin: %w", err)
				}
			}

			resp, err := http.Post(daemonAddr+"/attach-model", "application/json", bytes.NewReader(body))
			if err != nil {
				return fmt.Errorf("posting to apollod: %w", err)
			}
			defer resp.Body.Close()
			return printResponse(resp)
		},
	}
	cmd.Flags().StringVar(&fromFile, "from-file", "", "read the model package from a local file")
	cmd.Flags().StringVar(&fromURL, "from-url", "", "fetch the model package from a URL")
	return cmd
}

func newFlushCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "flush",
		Short: "Trigger a best-policy flush across every region",
		RunE: func(cmd *cobra.Command, args []string) error {
			resp, err := http.Post(daemonAddr+"/flush", "application/json", nil)
			if err != nil {
				return fmt.Errorf("posting to apollod: %w", err)
			}
			defer resp.Body.Close()
			return printResponse(resp)
		},
	}
}

func newInspectRegionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "inspect",
		Short: "Print apollod's current health and region summary",
		RunE: func(cmd *cobra.Command, args []string) error {
			resp, err := http.Get(daemonAddr + "/health")
			if err != nil {
				return fmt.Errorf("getting apollod health: %w", err)
			}
			defer resp.Body.Close()
			return printResponse(resp)
		},
	}
}

func printResponse(resp *http.Response) error {
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return err
	}
	if resp.StatusCode >= 400 {
		return fmt.Errorf("apollod returned %s: %s", resp.Status, string(body))
	}
	var pretty bytes.Buffer
	if json.Indent(&pretty, body, "", "  ") == nil {
		fmt.Println(pretty.String())
	} else {
		fmt.Println(string(body))
	}
	return nil
}
