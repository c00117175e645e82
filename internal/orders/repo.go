package orders

import (
	"context"
	"errors"
	"fmt"

	"github.com/ariefcatur/go-marketplace/internal/apperr"
	"github.com/ariefcatur/go-marketplace/internal/postgres"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/samber/lo"
	"github.com/shopspring/decimal"
)

type Repo struct{ DB *pgxpool.Pool }

// querier is satisfied by both *pgxpool.Pool and pgx.Tx.
type querier interface {
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// PlaceOrder runs the whole checkout in one transaction: lock the products,
// validate and price the cart, write order, items, stock and commissions.
func (r *Repo) PlaceOrder(ctx context.Context, buyerID int64, items []ItemRequest, rate decimal.Decimal) (Placed, error) {
	placed, err := postgres.WithTx(ctx, r.DB, func(tx pgx.Tx) (Placed, error) {
		var p Placed

		productIDs := lo.Uniq(lo.Map(items, func(it ItemRequest, _ int) int64 { return it.ProductID }))

		stock, err := lockProducts(ctx, tx, productIDs)
		if err != nil {
			return p, fmt.Errorf("lockProducts: %w", err)
		}

		lines, total, err := priceLines(items, stock)
		if err != nil {
			return p, err
		}

		var orderID int64
		if err := tx.QueryRow(ctx, `
			INSERT INTO orders(buyer_id, total_amount, status)
			VALUES ($1, $2, $3)
			RETURNING id`, buyerID, total, string(StatusPending)).Scan(&orderID); err != nil {
			return p, fmt.Errorf("insert order: %w", err)
		}

		for _, l := range lines {
			if _, err := tx.Exec(ctx, `
				INSERT INTO order_items(order_id, product_id, quantity, price)
				VALUES ($1, $2, $3, $4)`,
				orderID, l.ProductID, l.Quantity, l.Price); err != nil {
				return p, fmt.Errorf("insert order item: %w", err)
			}

			ct, err := tx.Exec(ctx, `UPDATE products SET quantity = quantity - $2 WHERE id=$1`, l.ProductID, l.Quantity)
			if err != nil {
				if postgres.IsCheckViolation(err) {
					return p, errors.Join(apperr.Conflict("stock for product %d changed, please retry", l.ProductID), err)
				}
				return p, fmt.Errorf("decrement stock: %w", err)
			}
			if ct.RowsAffected() != 1 {
				return p, fmt.Errorf("decrement stock: product %d: %d rows affected", l.ProductID, ct.RowsAffected())
			}
		}

		commissions := splitCommissions(lines, rate)
		for i := range commissions {
			c := &commissions[i]
			c.OrderID = orderID
			if err := tx.QueryRow(ctx, `
				INSERT INTO commissions(order_id, seller_id, amount, commission_rate, commission_amount, seller_amount)
				VALUES ($1, $2, $3, $4, $5, $6)
				RETURNING id, created_at`,
				c.OrderID, c.SellerID, c.Amount, c.CommissionRate, c.CommissionAmount, c.SellerAmount,
			).Scan(&c.ID, &c.CreatedAt); err != nil {
				return p, fmt.Errorf("insert commission: %w", err)
			}
		}

		order, err := getOrder(ctx, tx, orderID)
		if err != nil {
			return p, fmt.Errorf("getOrder: %w", err)
		}

		return Placed{Order: order, Commissions: commissions}, nil
	})
	if err != nil {
		return Placed{}, fmt.Errorf("postgres.WithTx: %w", err)
	}

	return placed, nil
}

// lockProducts takes row locks in ascending id order so concurrent carts
// touching the same products queue up instead of deadlocking.
func lockProducts(ctx context.Context, tx pgx.Tx, ids []int64) (map[int64]stockRow, error) {
	rows, err := tx.Query(ctx, `
		SELECT id, name, price, quantity, seller_id
		FROM products
		WHERE id = ANY($1)
		ORDER BY id
		FOR UPDATE`, ids)
	if err != nil {
		return nil, fmt.Errorf("tx.Query: %w", err)
	}
	defer rows.Close()

	out := make(map[int64]stockRow, len(ids))
	for rows.Next() {
		var s stockRow
		if err := rows.Scan(&s.ID, &s.Name, &s.Price, &s.Quantity, &s.SellerID); err != nil {
			return nil, fmt.Errorf("rows.Scan: %w", err)
		}
		out[s.ID] = s
	}
	return out, rows.Err()
}

func (r *Repo) GetOrder(ctx context.Context, orderID int64) (Order, error) {
	return getOrder(ctx, r.DB, orderID)
}

func (r *Repo) ListOrdersByBuyer(ctx context.Context, buyerID int64) ([]Order, error) {
	rows, err := r.DB.Query(ctx, `
		SELECT id, buyer_id, total_amount, status, created_at, updated_at
		FROM orders WHERE buyer_id=$1 ORDER BY id`, buyerID)
	if err != nil {
		return nil, fmt.Errorf("DB.Query: %w", err)
	}

	orders, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (Order, error) {
		return scanOrder(row)
	})
	if err != nil {
		return nil, fmt.Errorf("pgx.CollectRows: %w", err)
	}
	if len(orders) == 0 {
		return []Order{}, nil
	}

	items, err := getItems(ctx, r.DB, lo.Map(orders, func(o Order, _ int) int64 { return o.ID }))
	if err != nil {
		return nil, fmt.Errorf("getItems: %w", err)
	}

	byOrder := lo.GroupBy(items, func(it OrderItem) int64 { return it.OrderID })
	for i := range orders {
		orders[i].Items = byOrder[orders[i].ID]
		if orders[i].Items == nil {
			orders[i].Items = []OrderItem{}
		}
	}
	return orders, nil
}

func (r *Repo) UpdateStatus(ctx context.Context, orderID int64, status Status) error {
	ct, err := r.DB.Exec(ctx, `UPDATE orders SET status=$2, updated_at=now() WHERE id=$1`, orderID, string(status))
	if err != nil {
		return fmt.Errorf("DB.Exec: %w", err)
	}
	if ct.RowsAffected() == 0 {
		return apperr.NotFound("order %d not found", orderID)
	}
	return nil
}

const commissionColumns = `id, order_id, seller_id, amount, commission_rate, commission_amount, seller_amount, created_at`

func scanCommission(row pgx.Row) (Commission, error) {
	var c Commission
	err := row.Scan(&c.ID, &c.OrderID, &c.SellerID, &c.Amount, &c.CommissionRate, &c.CommissionAmount, &c.SellerAmount, &c.CreatedAt)
	return c, err
}

func (r *Repo) ListCommissionsBySeller(ctx context.Context, sellerID int64) ([]Commission, error) {
	rows, err := r.DB.Query(ctx, `SELECT `+commissionColumns+` FROM commissions WHERE seller_id=$1 ORDER BY id`, sellerID)
	if err != nil {
		return nil, fmt.Errorf("DB.Query: %w", err)
	}
	out, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (Commission, error) {
		return scanCommission(row)
	})
	if err != nil {
		return nil, fmt.Errorf("pgx.CollectRows: %w", err)
	}
	return out, nil
}

func (r *Repo) ListCommissionsByOrder(ctx context.Context, orderID int64) ([]Commission, error) {
	rows, err := r.DB.Query(ctx, `SELECT `+commissionColumns+` FROM commissions WHERE order_id=$1 ORDER BY id`, orderID)
	if err != nil {
		return nil, fmt.Errorf("DB.Query: %w", err)
	}
	out, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (Commission, error) {
		return scanCommission(row)
	})
	if err != nil {
		return nil, fmt.Errorf("pgx.CollectRows: %w", err)
	}
	return out, nil
}

func (r *Repo) GetCommission(ctx context.Context, id int64) (Commission, error) {
	c, err := scanCommission(r.DB.QueryRow(ctx, `SELECT `+commissionColumns+` FROM commissions WHERE id=$1`, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Commission{}, apperr.NotFound("commission %d not found", id)
		}
		return Commission{}, fmt.Errorf("row.Scan: %w", err)
	}
	return c, nil
}

func scanOrder(row pgx.Row) (Order, error) {
	var (
		o      Order
		status string
	)
	if err := row.Scan(&o.ID, &o.BuyerID, &o.TotalAmount, &status, &o.CreatedAt, &o.UpdatedAt); err != nil {
		return o, err
	}

	s, err := ToStatus(status)
	if err != nil {
		return o, err
	}
	o.Status = s
	return o, nil
}

func getOrder(ctx context.Context, q querier, orderID int64) (Order, error) {
	o, err := scanOrder(q.QueryRow(ctx, `
		SELECT id, buyer_id, total_amount, status, created_at, updated_at
		FROM orders WHERE id=$1`, orderID))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Order{}, apperr.NotFound("order %d not found", orderID)
		}
		return Order{}, fmt.Errorf("scanOrder: %w", err)
	}

	items, err := getItems(ctx, q, []int64{orderID})
	if err != nil {
		return Order{}, fmt.Errorf("getItems: %w", err)
	}
	o.Items = items
	return o, nil
}

// getItems joins the current product name onto each stored line.
func getItems(ctx context.Context, q querier, orderIDs []int64) ([]OrderItem, error) {
	rows, err := q.Query(ctx, `
		SELECT oi.id, oi.order_id, oi.product_id, p.name, oi.quantity, oi.price
		FROM order_items oi
		JOIN products p ON p.id = oi.product_id
		WHERE oi.order_id = ANY($1)
		ORDER BY oi.id`, orderIDs)
	if err != nil {
		return nil, fmt.Errorf("q.Query: %w", err)
	}

	items, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (OrderItem, error) {
		var it OrderItem
		err := row.Scan(&it.ID, &it.OrderID, &it.ProductID, &it.ProductName, &it.Quantity, &it.Price)
		return it, err
	})
	if err != nil {
		return nil, fmt.Errorf("pgx.CollectRows: %w", err)
	}
	return items, nil
}
