package main

import (
	"fmt"
	"net/http"
	"net/url"

	"github.com/spf13/cobra"

	"github.com/shopkite/platform/provisioner/internal/models"
)

func newInstancesCmd() *cobra.Command {
	var status string

	cmd := &cobra.Command{
		Use:   "instances",
		Short: "List instances",
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := newAdminClient()
			if err != nil {
				return err
			}

			path := "/instances"
			if status != "" {
				path += "?status=" + url.QueryEscape(status)
			}

			var resp struct {
				Instances []models.InstanceResponse `json:"instances"`
			}
			if err := c.do(http.MethodGet, path, &resp); err != nil {
				return err
			}

			fmt.Printf("%-36s  %-20s  %-8s  %s\n", "ID", "SUBDOMAIN", "STATUS", "URL")
			for _, inst := range resp.Instances {
				fmt.Printf("%-36s  %-20s  %-8s  %s\n", inst.ID, inst.Subdomain, inst.Status, inst.URL)
			}
			return nil
		},
	}

	cmd.Flags().StringVar(&status, "status", "", "filter by instance status")

	for _, action := range []string{"start", "stop", "restart", "health", "update"} {
		cmd.AddCommand(newActionCmd(action))
	}
	cmd.AddCommand(newLogsCmd())
	return cmd
}

func newActionCmd(action string) *cobra.Command {
	return &cobra.Command{
		Use:   action + " <instance-id>",
		Short: action + " an instance",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := newAdminClient()
			if err != nil {
				return err
			}

			var resp map[string]interface{}
			if err := c.do(http.MethodPost, "/instances/"+args[0]+"/"+action, &resp); err != nil {
				return err
			}
			fmt.Printf("%v\n", resp)
			return nil
		},
	}
}

func newLogsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "logs <instance-id>",
		Short: "Show an instance's audit trail",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := newAdminClient()
			if err != nil {
				return err
			}

			var resp struct {
				Logs []models.AuditLogResponse `json:"logs"`
			}
			if err := c.do(http.MethodGet, "/instances/"+args[0]+"/logs", &resp); err != nil {
				return err
			}

			for _, entry := range resp.Logs {
				fmt.Printf("%s  %-12s  %s\n",
					entry.CreatedAt.Format("2006-01-02 15:04:05"), entry.Action, entry.Message)
			}
			return nil
		},
	}
}

func newSweepCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "sweep",
		Short: "Run maintenance sweeps",
	}

	sweeps := map[string]string{
		"health":  "/maintenance/health-sweep",
		"cleanup": "/maintenance/cleanup",
		"sync":    "/maintenance/sync",
	}
	for name, path := range sweeps {
		path := path
		cmd.AddCommand(&cobra.Command{
			Use:   name,
			Short: "Run the " + name + " sweep",
			RunE: func(cmd *cobra.Command, args []string) error {
				c, err := newAdminClient()
				if err != nil {
					return err
				}

				var resp models.SweepResponse
				if err := c.do(http.MethodPost, path, &resp); err != nil {
					return err
				}
				fmt.Printf("checked=%d healthy=%d unhealthy=%d corrected=%d cleaned=%d\n",
					resp.Checked, resp.Healthy, resp.Unhealthy, resp.Corrected, resp.Cleaned)
				return nil
			},
		})
	}
	return cmd
}

func newOverviewCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "overview",
		Short: "Show platform-wide counts",
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := newAdminClient()
			if err != nil {
				return err
			}

			var resp models.OverviewResponse
			if err := c.do(http.MethodGet, "/overview", &resp); err != nil {
				return err
			}

			fmt.Printf("customers:            %d\n", resp.Customers)
			fmt.Printf("active subscriptions: %d\n", resp.ActiveSubscriptions)
			fmt.Printf("instances:            %d\n", resp.Instances)
			for status, n := range resp.InstancesByStatus {
				fmt.Printf("  %-10s %d\n", status, n)
			}
			return nil
		},
	}
}

func newDestroyCmd() *cobra.Command {
	var hard bool
	var yes bool

	cmd := &cobra.Command{
		Use:   "destroy <instance-id>",
		Short: "Tear down an instance (container, data, routing)",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if !yes {
				return fmt.Errorf("destroy is irreversible; re-run with --yes to confirm")
			}

			c, err := newAdminClient()
			if err != nil {
				return err
			}

			path := "/instances/" + args[0]
			if hard {
				path += "?hard=true"
			}

			var resp models.InstanceActionResponse
			if err := c.do(http.MethodDelete, path, &resp); err != nil {
				return err
			}
			fmt.Println(resp.Message)
			return nil
		},
	}

	cmd.Flags().BoolVar(&hard, "hard", false, "also remove the database record")
	cmd.Flags().BoolVar(&yes, "yes", false, "confirm the destruction")
	return cmd
}
