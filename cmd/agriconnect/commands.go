package main

import (
	"bufio"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/vyrodovalexey/agriconnect-gateway/internal/auth"
	"github.com/vyrodovalexey/agriconnect-gateway/internal/cart"
	"github.com/vyrodovalexey/agriconnect-gateway/internal/model"
)

var errLoginRequired = errors.New("not logged in; run 'agriconnect login' first")

// printer writes either JSON or a table to the command output.
type printer struct {
	w       io.Writer
	jsonOut bool
}

func newPrinter(cmd *cobra.Command, opts *rootOptions) *printer {
	return &printer{w: cmd.OutOrStdout(), jsonOut: opts.jsonOut}
}

// print emits v as JSON, or calls table with a tabwriter otherwise.
func (p *printer) print(v any, table func(tw *tabwriter.Writer)) error {
	if p.jsonOut {
		enc := json.NewEncoder(p.w)
		enc.SetIndent("", "  ")
		return enc.Encode(v)
	}

	tw := tabwriter.NewWriter(p.w, 0, 0, 2, ' ', 0)
	table(tw)
	return tw.Flush()
}

func newLoginCmd(opts *rootOptions) *cobra.Command {
	var creds model.Credentials

	cmd := &cobra.Command{
		Use:   "login",
		Short: "Log in to the marketplace",
		Long:  "Log in to the marketplace. The password is read from stdin when --password is omitted.",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if creds.Password == "" {
				password, err := readLine(cmd.InOrStdin())
				if err != nil {
					return fmt.Errorf("reading password: %w", err)
				}
				creds.Password = password
			}

			if err := creds.Validate(); err != nil {
				return err
			}

			a := opts.app
			result, err := a.client.Login(cmd.Context(), creds)
			if err != nil {
				return err
			}
			if err := a.session.Begin(cmd.Context(), *result); err != nil {
				return err
			}

			id := a.session.Identity()
			return newPrinter(cmd, opts).print(id, func(tw *tabwriter.Writer) {
				fmt.Fprintf(tw, "Logged in as %s (%s)\n", id.Username, id.Role)
			})
		},
	}

	cmd.Flags().StringVarP(&creds.Username, "username", "u", "", "marketplace username")
	cmd.Flags().StringVarP(&creds.Password, "password", "p", "", "marketplace password")

	return cmd
}

func newLogoutCmd(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "logout",
		Short: "Clear the marketplace session (the cart is kept)",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			opts.app.session.End(cmd.Context())
			fmt.Fprintln(cmd.OutOrStdout(), "Logged out")
			return nil
		},
	}
}

func newSignupCmd(opts *rootOptions) *cobra.Command {
	var (
		req  model.SignupRequest
		role string
	)

	cmd := &cobra.Command{
		Use:   "signup",
		Short: "Create a marketplace account",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			req.Role = model.Role(strings.ToUpper(role))
			if err := req.Validate(); err != nil {
				return err
			}

			user, err := opts.app.client.Signup(cmd.Context(), req)
			if err != nil {
				return err
			}

			return newPrinter(cmd, opts).print(user, func(tw *tabwriter.Writer) {
				fmt.Fprintf(tw, "Account %s created; run 'agriconnect login' to sign in\n", user.Username)
			})
		},
	}

	cmd.Flags().StringVarP(&req.Username, "username", "u", "", "username")
	cmd.Flags().StringVar(&req.Email, "email", "", "email address")
	cmd.Flags().StringVarP(&req.Password, "password", "p", "", "password")
	cmd.Flags().StringVar(&role, "role", string(model.RoleBuyer), "account role (FARMER or BUYER)")

	return cmd
}

func newWhoamiCmd(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "whoami",
		Short: "Show the current session",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			id := opts.app.session.Identity()
			return newPrinter(cmd, opts).print(id, func(tw *tabwriter.Writer) {
				if !id.Authenticated {
					fmt.Fprintln(tw, "Not logged in")
					return
				}
				fmt.Fprintf(tw, "%s\t%s\n", id.Username, id.Role)
			})
		},
	}
}

func newProductsCmd(opts *rootOptions) *cobra.Command {
	var (
		filter      model.ProductFilter
		maxDistance float64
		role        string
	)

	cmd := &cobra.Command{
		Use:   "products",
		Short: "Browse the marketplace catalog",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if cmd.Flags().Changed("max-distance") {
				filter.MaxDistance = &maxDistance
			}
			filter.Role = model.Role(strings.ToUpper(role))

			listings, err := opts.app.catalog.Browse(cmd.Context(), filter)
			if err != nil {
				return err
			}

			return newPrinter(cmd, opts).print(listings, func(tw *tabwriter.Writer) {
				fmt.Fprintln(tw, "ID\tNAME\tPRICE\tSTOCK\tCROP\tHARVEST\tIN CART")
				for _, l := range listings {
					fmt.Fprintf(tw, "%s\t%s\t%s\t%d\t%s\t%s\t%d\n",
						l.ID, l.Name, l.Price.StringFixed(2), l.Stock, l.CropType, l.HarvestDate, l.InCart)
				}
			})
		},
	}

	cmd.Flags().StringVar(&filter.CropType, "crop-type", "", "only this crop type")
	cmd.Flags().StringVar(&filter.HarvestDate, "harvest-date", "", "only this harvest date (YYYY-MM-DD)")
	cmd.Flags().Float64Var(&maxDistance, "max-distance", 0, "maximum farm distance in km")
	cmd.Flags().StringVar(&role, "role", "", "restrict to FARMER (own listings)")

	return cmd
}

func newCartCmd(opts *rootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "cart",
		Short: "Inspect and change the local cart",
	}

	show := func(cmd *cobra.Command) error {
		c := opts.app.cart
		items := c.Items()
		view := struct {
			Items     []cart.LineItem `json:"items"`
			ItemCount int             `json:"item_count"`
			Subtotal  string          `json:"subtotal"`
		}{items, cart.Count(items), cart.Subtotal(items).StringFixed(2)}

		return newPrinter(cmd, opts).print(view, func(tw *tabwriter.Writer) {
			if len(items) == 0 {
				fmt.Fprintln(tw, "Your cart is empty")
				return
			}
			fmt.Fprintln(tw, "ID\tNAME\tQTY\tPRICE\tTOTAL")
			for _, it := range items {
				fmt.Fprintf(tw, "%s\t%s\t%d\t%s\t%s\n",
					it.ID, it.Name, it.Quantity, it.Price.StringFixed(2), it.LineTotal().StringFixed(2))
			}
			fmt.Fprintf(tw, "\t\t%d\t\t%s\n", view.ItemCount, view.Subtotal)
		})
	}

	cmd.AddCommand(
		&cobra.Command{
			Use:   "show",
			Short: "List the cart contents",
			Args:  cobra.NoArgs,
			RunE: func(cmd *cobra.Command, _ []string) error {
				return show(cmd)
			},
		},
		&cobra.Command{
			Use:   "add <product-id>",
			Short: "Add one unit of a product",
			Args:  cobra.ExactArgs(1),
			RunE: func(cmd *cobra.Command, args []string) error {
				if _, err := opts.app.catalog.AddToCart(cmd.Context(), model.ID(args[0])); err != nil {
					return err
				}
				return show(cmd)
			},
		},
		&cobra.Command{
			Use:   "remove <product-id>",
			Short: "Remove a product regardless of quantity",
			Args:  cobra.ExactArgs(1),
			RunE: func(cmd *cobra.Command, args []string) error {
				opts.app.cart.RemoveItem(cmd.Context(), model.ID(args[0]))
				return show(cmd)
			},
		},
		&cobra.Command{
			Use:   "update <product-id> <delta>",
			Short: "Change a quantity by delta; quantities never drop below 1",
			Args:  cobra.ExactArgs(2),
			RunE: func(cmd *cobra.Command, args []string) error {
				delta, err := strconv.Atoi(args[1])
				if err != nil {
					return fmt.Errorf("invalid delta %q: %w", args[1], err)
				}
				opts.app.cart.UpdateQuantity(cmd.Context(), model.ID(args[0]), delta)
				return show(cmd)
			},
		},
		&cobra.Command{
			Use:   "clear",
			Short: "Empty the cart",
			Args:  cobra.NoArgs,
			RunE: func(cmd *cobra.Command, _ []string) error {
				opts.app.cart.Clear(cmd.Context())
				return show(cmd)
			},
		},
	)

	return cmd
}

func newCheckoutCmd(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "checkout",
		Short: "Place an order for the cart contents",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if opts.app.session.Token() == "" {
				return errLoginRequired
			}

			result, err := opts.app.checkout.Checkout(cmd.Context())
			if err != nil {
				return err
			}

			return newPrinter(cmd, opts).print(result, func(tw *tabwriter.Writer) {
				fmt.Fprintf(tw, "Order #%s placed. Total: %s\n", result.OrderID, result.Total.StringFixed(2))
			})
		},
	}
}

func newOrdersCmd(opts *rootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "orders",
		Short: "Order history and fulfilment",
	}

	list := &cobra.Command{
		Use:   "list",
		Short: "List your orders (incoming orders for farmers)",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if opts.app.session.Token() == "" {
				return errLoginRequired
			}

			orders, err := opts.app.client.ListOrders(cmd.Context())
			if err != nil {
				return err
			}

			return newPrinter(cmd, opts).print(orders, func(tw *tabwriter.Writer) {
				fmt.Fprintln(tw, "ID\tSTATUS\tTOTAL\tITEMS\tCREATED")
				for _, o := range orders {
					created := ""
					if !o.CreatedAt.IsZero() {
						created = o.CreatedAt.Format("2006-01-02 15:04")
					}
					fmt.Fprintf(tw, "%s\t%s\t%s\t%d\t%s\n",
						o.ID, o.Status, o.TotalAmount.StringFixed(2), len(o.Items), created)
				}
			})
		},
	}

	status := &cobra.Command{
		Use:   "status <order-id> <status>",
		Short: "Move an incoming order to a new status (farmers)",
		Long: "Move an incoming order to a new status. Valid statuses: " +
			joinStatuses(model.OrderStatuses()) + ".",
		Args: cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			st := model.OrderStatus(strings.ToUpper(args[1]))
			if err := opts.app.dashboard.SetOrderStatus(cmd.Context(), model.ID(args[0]), st); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Order #%s is now %s\n", args[0], st)
			return nil
		},
	}

	var output string
	invoice := &cobra.Command{
		Use:   "invoice <order-id>",
		Short: "Download the PDF invoice of an order",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if opts.app.session.Token() == "" {
				return errLoginRequired
			}

			inv, err := opts.app.client.DownloadInvoice(cmd.Context(), model.ID(args[0]))
			if err != nil {
				return err
			}

			path := output
			if path == "" {
				path = filepath.Base(inv.Filename)
			}
			if err := os.WriteFile(path, inv.Data, 0o600); err != nil {
				return fmt.Errorf("saving invoice: %w", err)
			}

			fmt.Fprintf(cmd.OutOrStdout(), "Saved %s (%d bytes)\n", path, len(inv.Data))
			return nil
		},
	}
	invoice.Flags().StringVarP(&output, "output", "o", "", "output file (default: server-provided name)")

	cmd.AddCommand(list, status, invoice)
	return cmd
}

func newProfileCmd(opts *rootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "profile",
		Short: "Show or update your farm profile",
	}

	showProfile := func(cmd *cobra.Command, p *model.Profile) error {
		return newPrinter(cmd, opts).print(p, func(tw *tabwriter.Writer) {
			fmt.Fprintf(tw, "Location\t%s\n", deref(p.Location))
			fmt.Fprintf(tw, "Land size\t%s\n", floatOrDash(p.LandSize))
			fmt.Fprintf(tw, "Soil type\t%s\n", p.SoilType)
			fmt.Fprintf(tw, "Coordinates\t%s, %s\n", floatOrDash(p.Latitude), floatOrDash(p.Longitude))
		})
	}

	show := &cobra.Command{
		Use:   "show",
		Short: "Show your profile",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if opts.app.session.Token() == "" {
				return errLoginRequired
			}

			p, err := opts.app.client.GetProfile(cmd.Context())
			if err != nil {
				return err
			}
			return showProfile(cmd, p)
		},
	}

	var (
		location  string
		soilType  string
		landSize  float64
		latitude  float64
		longitude float64
	)

	update := &cobra.Command{
		Use:   "update",
		Short: "Change the given profile fields (farmers)",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			fields := map[string]any{}
			flags := cmd.Flags()
			if flags.Changed("location") {
				fields["location"] = location
			}
			if flags.Changed("soil-type") {
				fields["soil_type"] = strings.ToUpper(soilType)
			}
			if flags.Changed("land-size") {
				fields["land_size"] = landSize
			}
			if flags.Changed("latitude") {
				fields["latitude"] = latitude
			}
			if flags.Changed("longitude") {
				fields["longitude"] = longitude
			}

			p, err := opts.app.dashboard.PatchProfile(cmd.Context(), fields)
			if err != nil {
				return err
			}
			return showProfile(cmd, p)
		},
	}
	update.Flags().StringVar(&location, "location", "", "farm location")
	update.Flags().StringVar(&soilType, "soil-type", "", "SILT, CLAY, LOAM, SANDY, PEAT or CHALK")
	update.Flags().Float64Var(&landSize, "land-size", 0, "land size in acres")
	update.Flags().Float64Var(&latitude, "latitude", 0, "farm latitude")
	update.Flags().Float64Var(&longitude, "longitude", 0, "farm longitude")

	cmd.AddCommand(show, update)
	return cmd
}

func newCropPlansCmd(opts *rootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "crop-plans",
		Short: "Crop calendar (farmers)",
	}

	list := &cobra.Command{
		Use:   "list",
		Short: "List crop plans with days left until harvest",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			plans, err := opts.app.dashboard.CropPlans(cmd.Context())
			if err != nil {
				return err
			}

			return newPrinter(cmd, opts).print(plans, func(tw *tabwriter.Writer) {
				fmt.Fprintln(tw, "ID\tVARIETY\tPLANTED\tHARVEST\tDAYS LEFT")
				for _, p := range plans {
					fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%d\n",
						p.ID, p.CropVariety, p.PlantingDate, p.ExpectedHarvestDate, p.DaysLeft)
				}
			})
		},
	}

	var input model.CropPlanInput
	add := &cobra.Command{
		Use:   "add",
		Short: "Schedule a new crop",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			plan, err := opts.app.dashboard.AddCropPlan(cmd.Context(), input)
			if err != nil {
				return err
			}

			return newPrinter(cmd, opts).print(plan, func(tw *tabwriter.Writer) {
				fmt.Fprintf(tw, "Planned %s: harvest in %d days\n", plan.CropVariety, plan.DaysLeft)
			})
		},
	}
	add.Flags().StringVar(&input.CropVariety, "variety", "", "crop variety")
	add.Flags().StringVar(&input.PlantingDate, "planted", "", "planting date (YYYY-MM-DD)")
	add.Flags().StringVar(&input.ExpectedHarvestDate, "harvest", "", "expected harvest date (YYYY-MM-DD)")

	cmd.AddCommand(list, add)
	return cmd
}

func newDashboardCmd(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "dashboard",
		Short: "Farmer overview: listings, pending orders and upcoming harvests",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ov, err := opts.app.dashboard.Load(cmd.Context())
			if err != nil {
				return err
			}

			return newPrinter(cmd, opts).print(ov, func(tw *tabwriter.Writer) {
				fmt.Fprintf(tw, "Listings\t%d\n", len(ov.Products))
				fmt.Fprintf(tw, "Orders\t%d (%d pending)\n", len(ov.Orders), ov.PendingOrders)
				fmt.Fprintf(tw, "Crop plans\t%d\n", len(ov.CropPlans))
				for _, p := range ov.CropPlans {
					fmt.Fprintf(tw, "  %s\tharvest %s\t%d days\n", p.CropVariety, p.ExpectedHarvestDate, p.DaysLeft)
				}
			})
		},
	}
}

func newHashPasswordCmd() *cobra.Command {
	return &cobra.Command{
		Use:         "hash-password <password>",
		Short:       "Print a bcrypt hash for APP_BASIC_AUTH_USERS",
		Args:        cobra.ExactArgs(1),
		Annotations: map[string]string{skipApp: "true"},
		RunE: func(cmd *cobra.Command, args []string) error {
			hash, err := auth.HashPassword(args[0])
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), hash)
			return nil
		},
	}
}

func readLine(r io.Reader) (string, error) {
	line, err := bufio.NewReader(r).ReadString('\n')
	if err != nil && !errors.Is(err, io.EOF) {
		return "", err
	}
	return strings.TrimRight(line, "\r\n"), nil
}

func joinStatuses(statuses []model.OrderStatus) string {
	names := make([]string, len(statuses))
	for i, s := range statuses {
		names[i] = string(s)
	}
	return strings.Join(names, ", ")
}

func deref(s *string) string {
	if s == nil {
		return "-"
	}
	return *s
}

func floatOrDash(f *float64) string {
	if f == nil {
		return "-"
	}
	return strconv.FormatFloat(*f, 'f', -1, 64)
}
