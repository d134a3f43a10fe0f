package main

import (
	"encoding/base64"
	"errors"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/yourusername/eleme-backend/internal/cart"
	"github.com/yourusername/eleme-backend/internal/client"
	"github.com/yourusername/eleme-backend/internal/order"
	"github.com/yourusername/eleme-backend/internal/user"
)

func newLoginCmd(a *app) *cobra.Command {
	var phone, password string
	cmd := &cobra.Command{
		Use:   "login",
		Short: "Log in with phone number and password",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			var err error
			if phone == "" {
				if phone, err = a.prompt("手机号: "); err != nil {
					return err
				}
			}
			if password == "" {
				if password, err = a.prompt("密码: "); err != nil {
					return err
				}
			}

			ctx := cmd.Context()
			captchaValue := ""
			if a.session.NeedsCaptcha() {
				if captchaValue, err = a.solveCaptcha(cmd); err != nil {
					return err
				}
			}
			info, err := a.client.Login(ctx, phone, password, captchaValue)
			if client.IsCode(err, "CAPTCHA_REQUIRED") || client.IsCode(err, "CAPTCHA_INVALID") {
				if captchaValue, err = a.solveCaptcha(cmd); err != nil {
					return err
				}
				info, err = a.client.Login(ctx, phone, password, captchaValue)
			}
			if err != nil {
				if st := a.session.Snapshot(); st.LoginAttempts > 0 {
					fmt.Fprintf(a.out, "登录失败次数: %d\n", st.LoginAttempts)
				}
				return err
			}
			fmt.Fprintf(a.out, "登录成功，欢迎 %s\n", info.Name)
			return nil
		},
	}
	cmd.Flags().StringVarP(&phone, "phone", "p", "", "phone number")
	cmd.Flags().StringVar(&password, "password", "", "password (prompted when empty)")
	return cmd
}

// solveCaptcha は画像認証を取得して一時ファイルに保存し、入力を求めます。
func (a *app) solveCaptcha(cmd *cobra.Command) (string, error) {
	c, err := a.client.Captcha(cmd.Context())
	if err != nil {
		return "", err
	}
	path, err := saveCaptchaImage(c.Image)
	if err != nil {
		return "", err
	}
	fmt.Fprintf(a.out, "需要图形验证码，图片已保存到 %s\n", path)
	return a.prompt("验证码: ")
}

func saveCaptchaImage(dataURL string) (string, error) {
	_, payload, ok := strings.Cut(dataURL, ",")
	if !ok {
		return "", errors.New("unexpected captcha image format")
	}
	raw, err := base64.StdEncoding.DecodeString(payload)
	if err != nil {
		return "", fmt.Errorf("decode captcha image: %w", err)
	}
	path := filepath.Join(os.TempDir(), "eleme-captcha.jpg")
	if err := os.WriteFile(path, raw, 0o600); err != nil {
		return "", fmt.Errorf("write captcha image: %w", err)
	}
	return path, nil
}

func newLogoutCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "logout",
		Short: "Revoke the token and clear the local session",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if err := a.client.Logout(cmd.Context()); err != nil {
				return err
			}
			fmt.Fprintln(a.out, "已退出登录")
			return nil
		},
	}
}

func newWhoamiCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "whoami",
		Short: "Show the logged-in user",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if err := a.requireLogin(); err != nil {
				return err
			}
			p, err := a.client.Me(cmd.Context())
			if err != nil {
				return err
			}
			fmt.Fprintf(a.out, "%s (%s)\n邮箱: %s\n性别: %s\n信用等级: %s\n",
				p.Name, p.PhoneNumber, p.Email, p.Gender, p.CreditLevel)
			return nil
		},
	}
}

func newVerifyCodeCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "verify-code <email>",
		Short: "Send a registration code to an email address",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			jobID, err := a.client.SendVerifyCode(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			fmt.Fprintf(a.out, "验证码已发送 (job %s)\n", jobID)
			return nil
		},
	}
}

func newRegisterCmd(a *app) *cobra.Command {
	var in user.RegisterInput
	cmd := &cobra.Command{
		Use:   "register",
		Short: "Create an account",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if in.Password == "" {
				pw, err := a.prompt("密码: ")
				if err != nil {
					return err
				}
				in.Password = pw
			}
			if in.ConfirmPassword == "" {
				in.ConfirmPassword = in.Password
			}
			info, err := a.client.Register(cmd.Context(), in)
			if err != nil {
				return err
			}
			fmt.Fprintf(a.out, "注册成功: %s (%s)\n", info.Name, info.PhoneNumber)
			return nil
		},
	}
	f := cmd.Flags()
	f.StringVarP(&in.PhoneNumber, "phone", "p", "", "phone number")
	f.StringVar(&in.Name, "name", "", "display name")
	f.StringVar(&in.Email, "email", "", "email address")
	f.StringVar(&in.VerifyCode, "code", "", "code received by email")
	f.StringVar(&in.Password, "password", "", "password (prompted when empty)")
	for _, name := range []string{"phone", "name", "email", "code"} {
		_ = cmd.MarkFlagRequired(name)
	}
	return cmd
}

func newBusinessesCmd(a *app) *cobra.Command {
	var kind, keyword, minRating string
	cmd := &cobra.Command{
		Use:   "businesses",
		Short: "List businesses",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			q := url.Values{}
			if kind != "" {
				q.Set("type", kind)
			}
			if keyword != "" {
				q.Set("keyword", keyword)
			}
			if minRating != "" {
				q.Set("minRating", minRating)
			}
			list, err := a.client.Businesses(cmd.Context(), q)
			if err != nil {
				return err
			}
			w := tabwriter.NewWriter(a.out, 0, 0, 2, ' ', 0)
			fmt.Fprintln(w, "ID\t商家\t评分\t月售\t距离\t起送")
			for _, b := range list {
				fmt.Fprintf(w, "%d\t%s\t%s\t%s\t%s\t%s\n", b.ID, b.BusinessName, b.Rating, b.Sales, b.Distance, b.MinOrder)
			}
			return w.Flush()
		},
	}
	cmd.Flags().StringVarP(&kind, "type", "t", "", "business type, e.g. 美食")
	cmd.Flags().StringVarP(&keyword, "keyword", "k", "", "name keyword")
	cmd.Flags().StringVar(&minRating, "min-rating", "", "minimum rating, e.g. 4.5")
	return cmd
}

func newShopCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "shop <businessId>",
		Short: "Show a business and its foods",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := strconv.Atoi(args[0])
			if err != nil {
				return fmt.Errorf("商家ID无效: %s", args[0])
			}
			b, err := a.client.Business(cmd.Context(), id)
			if err != nil {
				return err
			}
			fmt.Fprintf(a.out, "%s  %s  %s\n", b.BusinessName, b.Rating, b.Sales)
			if len(b.DiscountsList) > 0 {
				fmt.Fprintf(a.out, "优惠: %s\n", strings.Join(b.DiscountsList, " / "))
			}
			w := tabwriter.NewWriter(a.out, 0, 0, 2, ' ', 0)
			fmt.Fprintln(w, "ID\t商品\t价格")
			for _, f := range b.FoodList {
				fmt.Fprintf(w, "%d\t%s\t¥%s\n", f.ID, f.Name, f.RedPrice)
			}
			return w.Flush()
		},
	}
}

func newCartCmd(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "cart",
		Short: "Manage the shopping cart",
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			if err := a.open(); err != nil {
				return err
			}
			return a.requireLogin()
		},
	}

	var page, size int
	list := &cobra.Command{
		Use:   "list",
		Short: "Show cart items",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			p, err := a.client.Cart(cmd.Context(), page, size)
			if err != nil {
				return err
			}
			w := tabwriter.NewWriter(a.out, 0, 0, 2, ' ', 0)
			fmt.Fprintln(w, "ID\t商家\t商品\t数量\t小计")
			for _, it := range p.Items {
				fmt.Fprintf(w, "%d\t%s\t%s\t%d\t¥%s\n", it.ID, it.BusinessName, it.FoodName, it.Quantity, it.TotalPrice)
			}
			if err := w.Flush(); err != nil {
				return err
			}
			fmt.Fprintf(a.out, "共 %d 件，合计 ¥%s", p.ItemCount, p.TotalAmount)
			if p.OverLimit {
				fmt.Fprint(a.out, "（超出单笔订单上限）")
			}
			fmt.Fprintln(a.out)
			return nil
		},
	}
	list.Flags().IntVar(&page, "page", 1, "page number")
	list.Flags().IntVar(&size, "size", 20, "page size")

	var quantity int
	var remarks string
	add := &cobra.Command{
		Use:   "add <foodId>",
		Short: "Add a food to the cart",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			foodID, err := strconv.Atoi(args[0])
			if err != nil {
				return fmt.Errorf("商品ID无效: %s", args[0])
			}
			it, err := a.client.AddToCart(cmd.Context(), cart.AddInput{FoodID: foodID, Quantity: quantity, Remarks: remarks})
			if err != nil {
				return err
			}
			fmt.Fprintf(a.out, "已加入购物车: %s x%d\n", it.FoodName, it.Quantity)
			return nil
		},
	}
	add.Flags().IntVarP(&quantity, "quantity", "n", 1, "quantity")
	add.Flags().StringVar(&remarks, "remarks", "", "remarks for the shop")

	update := &cobra.Command{
		Use:   "update <itemId> <quantity>",
		Short: "Change the quantity of a cart item",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := strconv.ParseInt(args[0], 10, 64)
			if err != nil {
				return fmt.Errorf("购物车项ID无效: %s", args[0])
			}
			q, err := strconv.Atoi(args[1])
			if err != nil {
				return fmt.Errorf("数量无效: %s", args[1])
			}
			it, err := a.client.UpdateCartItem(cmd.Context(), id, q)
			if err != nil {
				return err
			}
			fmt.Fprintf(a.out, "%s 数量已更新为 %d\n", it.FoodName, it.Quantity)
			return nil
		},
	}

	remove := &cobra.Command{
		Use:   "remove <itemId>",
		Short: "Remove a cart item",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := strconv.ParseInt(args[0], 10, 64)
			if err != nil {
				return fmt.Errorf("购物车项ID无效: %s", args[0])
			}
			if err := a.client.RemoveCartItem(cmd.Context(), id); err != nil {
				return err
			}
			fmt.Fprintln(a.out, "已删除")
			return nil
		},
	}

	clearCmd := &cobra.Command{
		Use:   "clear",
		Short: "Empty the cart",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			n, err := a.client.ClearCart(cmd.Context())
			if err != nil {
				return err
			}
			fmt.Fprintf(a.out, "已清空 %d 项\n", n)
			return nil
		},
	}

	cmd.AddCommand(list, add, update, remove, clearCmd)
	return cmd
}

func newCheckoutCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "checkout <businessId>",
		Short: "Place an order from the cart items of one business",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := a.requireLogin(); err != nil {
				return err
			}
			id, err := strconv.Atoi(args[0])
			if err != nil {
				return fmt.Errorf("商家ID无效: %s", args[0])
			}
			o, err := a.client.Checkout(cmd.Context(), id)
			if err != nil {
				return err
			}
			fmt.Fprintf(a.out, "订单 %d 已创建，金额 ¥%s，%s\n", o.ID, o.Price, order.StateText(o.State))
			return nil
		},
	}
}

func newOrdersCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "orders",
		Short: "List your orders",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if err := a.requireLogin(); err != nil {
				return err
			}
			list, err := a.client.Orders(cmd.Context())
			if err != nil {
				return err
			}
			w := tabwriter.NewWriter(a.out, 0, 0, 2, ' ', 0)
			fmt.Fprintln(w, "ID\t商家\t金额\t状态\t下单时间")
			for _, o := range list {
				fmt.Fprintf(w, "%d\t%d\t¥%s\t%s\t%s\n",
					o.ID, o.BusinessID, o.Price, order.StateText(o.State), o.CreatedAt.Local().Format("2006-01-02 15:04"))
			}
			return w.Flush()
		},
	}
}

func newPayCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "pay <orderId>",
		Short: "Pay an order",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := a.requireLogin(); err != nil {
				return err
			}
			id, err := strconv.ParseInt(args[0], 10, 64)
			if err != nil {
				return fmt.Errorf("订单ID无效: %s", args[0])
			}
			o, err := a.client.Pay(cmd.Context(), id)
			if err != nil {
				return err
			}
			fmt.Fprintf(a.out, "订单 %d %s\n", o.ID, order.StateText(o.State))
			return nil
		},
	}
}
