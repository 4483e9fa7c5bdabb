package services

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/oklog/ulid/v2"

	domain "github.com/hanko-field/commerce/internal/domain"
	"github.com/hanko-field/commerce/internal/repositories"
)

const (
	cartLineIDPrefix   = "cl_"
	maxCartLineQty     = 999
	defaultCurrency    = "JPY"
	cartEventTruncated = "cart.merge.truncated"
)

// CartServiceDeps wires the repositories used by the cart store.
type CartServiceDeps struct {
	Carts           repositories.CartRepository
	Catalog         repositories.CatalogRepository
	UnitOfWork      repositories.UnitOfWork
	Clock           func() time.Time
	IDGenerator     func() string
	DefaultCurrency string
	Logger          func(ctx context.Context, event string, fields map[string]any)
}

type cartService struct {
	carts      repositories.CartRepository
	catalog    repositories.CatalogRepository
	unitOfWork repositories.UnitOfWork
	clock      func() time.Time
	newID      func() string
	currency   string
	logger     func(context.Context, string, map[string]any)
}

// NewCartService constructs a CartService enforcing dependency validation.
func NewCartService(deps CartServiceDeps) (CartService, error) {
	if deps.Carts == nil {
		return nil, errors.New("cart service: cart repository is required")
	}
	if deps.Catalog == nil {
		return nil, errors.New("cart service: catalog repository is required")
	}

	unit := deps.UnitOfWork
	if unit == nil {
		unit = noopUnitOfWork{}
	}
	clock := deps.Clock
	if clock == nil {
		clock = time.Now
	}
	idGen := deps.IDGenerator
	if idGen == nil {
		idGen = func() string {
			return ulid.Make().String()
		}
	}
	currency := strings.ToUpper(strings.TrimSpace(deps.DefaultCurrency))
	if currency == "" {
		currency = defaultCurrency
	}
	logger := deps.Logger
	if logger == nil {
		logger = func(context.Context, string, map[string]any) {}
	}

	return &cartService{
		carts:      deps.Carts,
		catalog:    deps.Catalog,
		unitOfWork: unit,
		clock: func() time.Time {
			return clock().UTC().Truncate(time.Microsecond)
		},
		newID:    idGen,
		currency: currency,
		logger:   logger,
	}, nil
}

func (s *cartService) GetLines(ctx context.Context, principal Principal) (CartView, error) {
	owner, err := cartOwner(principal)
	if err != nil {
		return CartView{}, err
	}
	lines, err := s.carts.ListLines(ctx, owner)
	if err != nil {
		return CartView{}, s.mapRepositoryError(err)
	}
	view := CartView{Lines: make([]CartLineView, 0, len(lines)), Currency: s.currency}
	if len(lines) == 0 {
		return view, nil
	}

	products, err := s.catalog.FindProducts(ctx, lineProductIDs(lines))
	if err != nil {
		return CartView{}, s.mapRepositoryError(err)
	}
	currencySet := false
	for _, line := range lines {
		item := CartLineView{CartLine: line}
		if product, ok := products[line.ProductID]; ok {
			item.ProductName = product.Name
			item.UnitPrice = product.Price
			item.Currency = product.Currency
			item.Stock = product.Stock
			if len(product.Images) > 0 {
				item.Image = product.Images[0]
			}
			item.Available = product.Stock >= line.Quantity
			view.Subtotal += product.Price * int64(line.Quantity)
			if !currencySet && product.Currency != "" {
				view.Currency = product.Currency
				currencySet = true
			}
		}
		view.ItemCount += line.Quantity
		view.Lines = append(view.Lines, item)
	}
	return view, nil
}

func (s *cartService) AddLine(ctx context.Context, cmd AddCartLineCommand) (CartLine, error) {
	owner, err := cartOwner(cmd.Principal)
	if err != nil {
		return CartLine{}, err
	}
	productID := strings.TrimSpace(cmd.ProductID)
	if productID == "" {
		return CartLine{}, fmt.Errorf("%w: product id is required", ErrCartInvalidInput)
	}
	if cmd.Quantity < 1 || cmd.Quantity > maxCartLineQty {
		return CartLine{}, fmt.Errorf("%w: quantity must be between 1 and %d", ErrCartInvalidInput, maxCartLineQty)
	}

	var result CartLine
	err = s.runInTx(ctx, func(txCtx context.Context) error {
		product, err := s.catalog.FindProduct(txCtx, productID)
		if err != nil {
			if isRepoNotFound(err) {
				return fmt.Errorf("%w: %s", ErrCartProductNotFound, productID)
			}
			return s.mapRepositoryError(err)
		}

		existing, err := s.carts.FindLineByProduct(txCtx, owner, productID)
		switch {
		case err == nil:
			quantity := existing.Quantity + cmd.Quantity
			if quantity > product.Stock {
				return insufficientCartStock(productID, quantity, product.Stock)
			}
			if quantity > maxCartLineQty {
				return fmt.Errorf("%w: quantity must not exceed %d", ErrCartInvalidInput, maxCartLineQty)
			}
			now := s.clock()
			if err := s.carts.UpdateQuantity(txCtx, owner, existing.ID, quantity, now); err != nil {
				return s.mapRepositoryError(err)
			}
			existing.Quantity = quantity
			existing.UpdatedAt = now
			result = existing
			return nil
		case isRepoNotFound(err):
		default:
			return s.mapRepositoryError(err)
		}

		if cmd.Quantity > product.Stock {
			return insufficientCartStock(productID, cmd.Quantity, product.Stock)
		}
		now := s.clock()
		line := CartLine{
			ID:        cartLineIDPrefix + s.newID(),
			Owner:     owner,
			ProductID: productID,
			Quantity:  cmd.Quantity,
			CreatedAt: now,
			UpdatedAt: now,
		}
		if err := s.carts.InsertLine(txCtx, line); err != nil {
			return s.mapRepositoryError(err)
		}
		result = line
		return nil
	})
	if err != nil {
		return CartLine{}, err
	}
	return result, nil
}

func (s *cartService) UpdateLineQuantity(ctx context.Context, cmd UpdateCartLineCommand) (CartLineUpdate, error) {
	owner, err := cartOwner(cmd.Principal)
	if err != nil {
		return CartLineUpdate{}, err
	}
	lineID := strings.TrimSpace(cmd.LineID)
	if lineID == "" {
		return CartLineUpdate{}, fmt.Errorf("%w: line id is required", ErrCartInvalidInput)
	}
	if cmd.Quantity > maxCartLineQty {
		return CartLineUpdate{}, fmt.Errorf("%w: quantity must not exceed %d", ErrCartInvalidInput, maxCartLineQty)
	}

	var result CartLineUpdate
	err = s.runInTx(ctx, func(txCtx context.Context) error {
		line, err := s.carts.FindLine(txCtx, owner, lineID)
		if err != nil {
			return s.mapRepositoryError(err)
		}
		if cmd.Quantity < 1 {
			if err := s.carts.DeleteLine(txCtx, owner, lineID); err != nil {
				return s.mapRepositoryError(err)
			}
			result = CartLineUpdate{Line: line, Removed: true}
			return nil
		}

		product, err := s.catalog.FindProduct(txCtx, line.ProductID)
		if err != nil {
			if isRepoNotFound(err) {
				return fmt.Errorf("%w: %s", ErrCartProductNotFound, line.ProductID)
			}
			return s.mapRepositoryError(err)
		}
		if cmd.Quantity > product.Stock {
			return insufficientCartStock(line.ProductID, cmd.Quantity, product.Stock)
		}
		now := s.clock()
		if err := s.carts.UpdateQuantity(txCtx, owner, lineID, cmd.Quantity, now); err != nil {
			return s.mapRepositoryError(err)
		}
		line.Quantity = cmd.Quantity
		line.UpdatedAt = now
		result = CartLineUpdate{Line: line}
		return nil
	})
	if err != nil {
		return CartLineUpdate{}, err
	}
	return result, nil
}

func (s *cartService) RemoveLine(ctx context.Context, principal Principal, lineID string) error {
	owner, err := cartOwner(principal)
	if err != nil {
		return err
	}
	lineID = strings.TrimSpace(lineID)
	if lineID == "" {
		return fmt.Errorf("%w: line id is required", ErrCartInvalidInput)
	}
	if err := s.carts.DeleteLine(ctx, owner, lineID); err != nil {
		return s.mapRepositoryError(err)
	}
	return nil
}

func (s *cartService) Clear(ctx context.Context, principal Principal) error {
	owner, err := cartOwner(principal)
	if err != nil {
		return err
	}
	if _, err := s.carts.DeleteAll(ctx, owner); err != nil {
		return s.mapRepositoryError(err)
	}
	return nil
}

// MergeOnLogin folds every session line into the account cart. Matching products are summed and
// capped at current stock (never below the account's existing quantity); other lines are
// re-owned. The session cart is empty afterwards.
func (s *cartService) MergeOnLogin(ctx context.Context, cmd MergeCartCommand) (MergeCartResult, error) {
	token := strings.TrimSpace(cmd.SessionToken)
	accountID := strings.TrimSpace(cmd.AccountID)
	if token == "" || accountID == "" {
		return MergeCartResult{}, fmt.Errorf("%w: session token and account id are required", ErrCartInvalidInput)
	}
	from := domain.SessionOwner(token)
	to := domain.AccountOwner(accountID)

	var result MergeCartResult
	var truncated []map[string]any
	err := s.runInTx(ctx, func(txCtx context.Context) error {
		result = MergeCartResult{}
		truncated = truncated[:0]

		sessionLines, err := s.carts.ListLines(txCtx, from)
		if err != nil {
			return s.mapRepositoryError(err)
		}
		if len(sessionLines) == 0 {
			return nil
		}
		accountLines, err := s.carts.ListLines(txCtx, to)
		if err != nil {
			return s.mapRepositoryError(err)
		}
		byProduct := make(map[string]CartLine, len(accountLines))
		for _, line := range accountLines {
			byProduct[line.ProductID] = line
		}
		products, err := s.catalog.FindProducts(txCtx, lineProductIDs(sessionLines))
		if err != nil {
			return s.mapRepositoryError(err)
		}

		now := s.clock()
		for _, line := range sessionLines {
			existing, ok := byProduct[line.ProductID]
			if !ok {
				if err := s.carts.Reassign(txCtx, line.ID, from, to, now); err != nil {
					return s.mapRepositoryError(err)
				}
				result.Moved++
				continue
			}

			sum := existing.Quantity + line.Quantity
			quantity := existing.Quantity
			if product, found := products[line.ProductID]; found {
				quantity = max(existing.Quantity, min(sum, product.Stock))
			}
			if quantity < sum {
				result.Truncated++
				truncated = append(truncated, map[string]any{
					"productID": line.ProductID,
					"requested": sum,
					"kept":      quantity,
				})
			}
			if quantity != existing.Quantity {
				if err := s.carts.UpdateQuantity(txCtx, to, existing.ID, quantity, now); err != nil {
					return s.mapRepositoryError(err)
				}
			}
			result.Merged++
		}

		if _, err := s.carts.DeleteAll(txCtx, from); err != nil {
			return s.mapRepositoryError(err)
		}
		return nil
	})
	if err != nil {
		return MergeCartResult{}, err
	}
	for _, fields := range truncated {
		fields["accountID"] = accountID
		s.logger(ctx, cartEventTruncated, fields)
	}
	return result, nil
}

func (s *cartService) runInTx(ctx context.Context, fn func(context.Context) error) error {
	return runWithEffects(ctx, s.unitOfWork, fn)
}

func (s *cartService) mapRepositoryError(err error) error {
	if err == nil {
		return nil
	}
	var repoErr repositories.RepositoryError
	if errors.As(err, &repoErr) {
		switch {
		case repoErr.IsNotFound():
			return fmt.Errorf("%w: %v", ErrCartNotFound, err)
		case repoErr.IsConflict():
			return fmt.Errorf("%w: %v", ErrCartConflict, err)
		case repoErr.IsUnavailable():
			return fmt.Errorf("cart: repository unavailable: %w", err)
		}
	}
	return err
}

func cartOwner(principal Principal) (OwnerKey, error) {
	if !principal.Valid() {
		return "", ErrCartUnauthorized
	}
	return principal.OwnerKey(), nil
}

func insufficientCartStock(productID string, requested, available int) error {
	return fmt.Errorf("%w: %w", ErrCartInsufficientStock, repositories.NewStockError(productID, requested, available))
}

func lineProductIDs(lines []CartLine) []string {
	ids := make([]string, 0, len(lines))
	seen := make(map[string]struct{}, len(lines))
	for _, line := range lines {
		if _, ok := seen[line.ProductID]; ok {
			continue
		}
		seen[line.ProductID] = struct{}{}
		ids = append(ids, line.ProductID)
	}
	return ids
}

func isRepoNotFound(err error) bool {
	var repoErr repositories.RepositoryError
	return errors.As(err, &repoErr) && repoErr.IsNotFound()
}
