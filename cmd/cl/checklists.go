package main

import (
	"context"
	"fmt"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"checkline/internal/domain"
	"checkline/internal/engine"
	"checkline/internal/server"
)

func checklistCmd() *cobra.Command {
	cmd := &cobra.Command{Use: "checklist", Short: "Manage checklists"}
	cmd.AddCommand(checklistCreateCmd())
	cmd.AddCommand(checklistShowCmd())
	cmd.AddCommand(checklistListCmd())
	cmd.AddCommand(checklistCompletionCmd())
	cmd.AddCommand(checklistVerifyCmd())
	cmd.AddCommand(checklistReopenCmd())
	cmd.AddCommand(checklistNotesCmd())
	return cmd
}

func checklistCreateCmd() *cobra.Command {
	var opts engine.CreateChecklistOptions
	cmd := &cobra.Command{
		Use:   "create",
		Short: "Create a checklist for a product or a delivery plan product",
		RunE: func(cmd *cobra.Command, args []string) error {
			opts.ActorID = viper.GetString("actor-id")
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				c, err := e.CreateChecklist(ctx, opts)
				if err != nil {
					return err
				}
				return printJSONOrTable(c)
			})
		},
	}
	cmd.Flags().StringVar(&opts.ID, "id", "", "checklist id (generated when empty)")
	cmd.Flags().StringVar(&opts.ProductID, "product", "", "product id")
	cmd.Flags().StringVar(&opts.DeliveryPlanProductID, "dpp", "", "delivery plan product id")
	cmd.Flags().StringVar(&opts.Notes, "notes", "", "free-form notes")
	cmd.MarkFlagsMutuallyExclusive("product", "dpp")
	return cmd
}

func selectorFlags(cmd *cobra.Command, sel *engine.Selector) {
	cmd.Flags().StringVar(&sel.ProductID, "product", "", "look up by product id")
	cmd.Flags().StringVar(&sel.DeliveryPlanProductID, "dpp", "", "look up by delivery plan product id")
}

func checklistShowCmd() *cobra.Command {
	var sel engine.Selector
	cmd := &cobra.Command{
		Use:   "show [checklist-id]",
		Short: "Show a checklist by id or by target",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if len(args) == 1 {
				sel.ID = args[0]
			}
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				v, err := e.GetChecklist(ctx, sel)
				if err != nil {
					return err
				}
				return printJSONOrTable(v)
			})
		},
	}
	selectorFlags(cmd, &sel)
	return cmd
}

func checklistListCmd() *cobra.Command {
	var verified string
	var limit int
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List checklists, newest first",
		RunE: func(cmd *cobra.Command, args []string) error {
			filter := engine.ListFilter{Limit: limit}
			if verified != "" {
				b, err := strconv.ParseBool(verified)
				if err != nil {
					return fmt.Errorf("--verified: %w", err)
				}
				filter.Verified = &b
			}
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				views, err := e.ListChecklists(ctx, filter)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(views)
				}
				tw := newTable()
				tw.AppendHeader(table.Row{"ID", "Target", "State", "Verified By", "Updated"})
				for _, v := range views {
					a := v.Attachment()
					target := "-"
					if !a.IsZero() {
						target = fmt.Sprintf("%s:%s", a.Kind, a.ID)
					}
					tw.AppendRow(table.Row{v.ID, target, v.State, deref(v.VerifiedBy), v.UpdatedAt.Format(time.RFC3339)})
				}
				tw.Render()
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&verified, "verified", "", "filter by verification (true or false)")
	cmd.Flags().IntVar(&limit, "limit", 50, "maximum checklists")
	return cmd
}

func checklistCompletionCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "completion <checklist-id>",
		Short: "Show completion per category",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				p, err := e.GetCompletion(ctx, args[0])
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(p)
				}
				tw := newTable()
				tw.SetTitle(fmt.Sprintf("%s  [%s]  schema %s", p.ChecklistID, p.State, p.SchemaVersion))
				tw.AppendHeader(table.Row{"Category", "Satisfied", "Required", "Ratio"})
				for _, cat := range e.Schema().Categories() {
					cp := p.PerCategory[cat.ID]
					tw.AppendRow(table.Row{cat.ID, cp.Satisfied, cp.Required, percent(cp.Ratio)})
				}
				tw.AppendFooter(table.Row{"overall", p.Satisfied, p.Required, percent(p.OverallRatio)})
				tw.Render()
				printKeys("missing required", p.MissingRequired)
				printKeys("orphaned", p.Orphaned)
				printKeys("type mismatch", p.Mismatched)
				return nil
			})
		},
	}
	return cmd
}

func percent(r float64) string {
	return strconv.FormatFloat(r*100, 'f', 0, 64) + "%"
}

func printKeys(label string, keys []domain.ItemKey) {
	if len(keys) == 0 {
		return
	}
	parts := make([]string, 0, len(keys))
	for _, k := range keys {
		parts = append(parts, k.CategoryID+"/"+k.ItemID)
	}
	fmt.Printf("%s: %s\n", label, strings.Join(parts, ", "))
}

func checklistVerifyCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "verify <checklist-id>",
		Short: "Verify a completed checklist as the current actor",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				v, err := e.Verify(ctx, args[0], viper.GetString("actor-id"))
				if err != nil {
					return err
				}
				return printJSONOrTable(v)
			})
		},
	}
}

func checklistReopenCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "reopen <checklist-id>",
		Short: "Clear the verification of a checklist",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				v, err := e.Reopen(ctx, args[0], viper.GetString("actor-id"))
				if err != nil {
					return err
				}
				return printJSONOrTable(v)
			})
		},
	}
}

func checklistNotesCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "notes <checklist-id> <notes>",
		Short: "Replace the notes of a checklist",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				v, err := e.UpdateNotes(ctx, args[0], viper.GetString("actor-id"), args[1])
				if err != nil {
					return err
				}
				return printJSONOrTable(v)
			})
		},
	}
}

func responseCmd() *cobra.Command {
	cmd := &cobra.Command{Use: "response", Short: "Record and list answers"}
	cmd.AddCommand(responseSetCmd())
	cmd.AddCommand(responseListCmd())
	return cmd
}

func responseSetCmd() *cobra.Command {
	var expected int64
	cmd := &cobra.Command{
		Use:   "set <checklist-id> <category>/<item> <value>",
		Short: "Answer one item; booleans accept true/false/yes/no",
		Args:  cobra.ExactArgs(3),
		RunE: func(cmd *cobra.Command, args []string) error {
			category, item, ok := strings.Cut(args[1], "/")
			if !ok {
				return fmt.Errorf("item must be <category>/<item>, got %q", args[1])
			}
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				def, err := e.Schema().Resolve(category, item)
				if err != nil {
					return engine.ValidationError{Field: "item", Reason: engine.ReasonUnknownItem}
				}
				value, err := parseValue(def.Type, args[2])
				if err != nil {
					return err
				}
				in := engine.ResponseInput{ChecklistID: args[0], CategoryID: category, ItemID: item, Value: value, ActorID: viper.GetString("actor-id")}
				if cmd.Flags().Changed("expected-version") {
					in.ExpectedVersion = &expected
				}
				r, err := e.UpsertResponse(ctx, in)
				if err != nil {
					return err
				}
				return printJSONOrTable(r)
			})
		},
	}
	cmd.Flags().Int64Var(&expected, "expected-version", 0, "fail unless the stored answer is at this version (0: must not exist)")
	return cmd
}

func parseValue(t domain.ValueType, raw string) (domain.Value, error) {
	if t == domain.ValueText {
		return domain.TextValue(raw), nil
	}
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "true", "yes", "y", "1":
		return domain.BoolValue(true), nil
	case "false", "no", "n", "0":
		return domain.BoolValue(false), nil
	}
	return domain.Value{}, engine.ValidationError{Field: "value", Reason: engine.ReasonTypeMismatch}
}

func responseListCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "list <checklist-id>",
		Short: "List the answers of a checklist",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				list, err := e.ListResponses(ctx, args[0])
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(list)
				}
				tw := newTable()
				tw.AppendHeader(table.Row{"Category", "Item", "Value", "Version", "Updated"})
				for _, r := range list {
					v := r.Value()
					shown := v.Text()
					if v.Type() == domain.ValueBoolean {
						shown = strconv.FormatBool(v.Bool())
					}
					tw.AppendRow(table.Row{r.CategoryID, r.ItemID, shown, r.Version, r.UpdatedAt.Format(time.RFC3339)})
				}
				tw.Render()
				return nil
			})
		},
	}
}

func schemaCmd() *cobra.Command {
	cmd := &cobra.Command{Use: "schema", Short: "Inspect the checklist schema"}
	cmd.AddCommand(&cobra.Command{
		Use:   "show",
		Short: "Print categories and items",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				reg := e.Schema()
				if viper.GetBool("json") {
					return printJSON(map[string]any{"version": reg.Version(), "categories": reg.Categories()})
				}
				tw := newTable()
				tw.SetTitle("schema " + reg.Version())
				tw.AppendHeader(table.Row{"Category", "Item", "Type", "Required", "Label"})
				for _, cat := range reg.Categories() {
					for _, it := range cat.Items {
						req := ""
						if it.Required {
							req = "yes"
						}
						tw.AppendRow(table.Row{cat.ID, it.ItemID, it.Type, req, it.Label})
					}
					tw.AppendSeparator()
				}
				tw.Render()
				return nil
			})
		},
	})
	return cmd
}

func targetCmd() *cobra.Command {
	cmd := &cobra.Command{Use: "target", Short: "Register products and delivery plan products"}
	add := &cobra.Command{Use: "add", Short: "Register a target"}
	var label, productID string
	product := &cobra.Command{
		Use:   "product <id>",
		Short: "Register a product",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				if err := e.RegisterProduct(ctx, args[0], label); err != nil {
					return err
				}
				return printJSONOrTable(map[string]string{"kind": string(domain.TargetProduct), "id": args[0]})
			})
		},
	}
	product.Flags().StringVar(&label, "label", "", "display label")
	dpp := &cobra.Command{
		Use:   "dpp <id>",
		Short: "Register a delivery plan product",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				if err := e.RegisterDeliveryPlanProduct(ctx, args[0], productID, label); err != nil {
					return err
				}
				return printJSONOrTable(map[string]string{"kind": string(domain.TargetDeliveryPlanProduct), "id": args[0]})
			})
		},
	}
	dpp.Flags().StringVar(&label, "label", "", "display label")
	dpp.Flags().StringVar(&productID, "product", "", "product the line delivers")
	add.AddCommand(product, dpp)
	cmd.AddCommand(add)
	return cmd
}

func apiKeyCmd() *cobra.Command {
	cmd := &cobra.Command{Use: "apikey", Short: "Manage API keys"}
	var name string
	var perms []string
	create := &cobra.Command{
		Use:   "create",
		Short: "Create an API key for the current actor; the secret is printed once",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				key, secret, err := e.CreateAPIKey(ctx, viper.GetString("actor-id"), name, perms)
				if err != nil {
					return err
				}
				return printJSONOrTable(map[string]any{"id": key.ID, "actor_id": key.ActorID, "permissions": key.Permissions, "key": secret})
			})
		},
	}
	create.Flags().StringVar(&name, "name", "", "key name")
	create.Flags().StringSliceVar(&perms, "permission", []string{server.PermVerify}, "granted permissions")
	list := &cobra.Command{
		Use:   "list",
		Short: "List API keys",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				keys, err := e.ListAPIKeys(ctx, "")
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(keys)
				}
				tw := newTable()
				tw.AppendHeader(table.Row{"ID", "Actor", "Name", "Permissions", "Created"})
				for _, k := range keys {
					p := append([]string(nil), k.Permissions...)
					sort.Strings(p)
					tw.AppendRow(table.Row{k.ID, k.ActorID, k.Name, strings.Join(p, ","), k.CreatedAt.Format(time.RFC3339)})
				}
				tw.Render()
				return nil
			})
		},
	}
	del := &cobra.Command{
		Use:   "delete <id>",
		Short: "Revoke an API key",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				return e.RevokeAPIKey(ctx, args[0])
			})
		},
	}
	cmd.AddCommand(create, list, del)
	return cmd
}
