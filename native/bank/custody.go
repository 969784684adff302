package bank

// Custody adapts a Book to the vault engine's custody primitives. Base-asset
// moves are transfers of BaseAsset; receipt mints and burns operate on the
// mint the engine names.
type Custody struct {
	Book      *Book
	BaseAsset [20]byte
}

// NewCustody binds book to the base asset identified by base.
func NewCustody(book *Book, base [20]byte) *Custody {
	return &Custody{Book: book, BaseAsset: base}
}

func (c *Custody) TransferIn(from, vault [20]byte, amount uint64) error {
	return c.Book.Transfer(c.BaseAsset, from, vault, amount)
}

func (c *Custody) TransferOut(vault, to [20]byte, amount uint64) error {
	return c.Book.Transfer(c.BaseAsset, vault, to, amount)
}

func (c *Custody) MintReceipt(mint, to [20]byte, amount uint64) error {
	return c.Book.Mint(mint, to, amount)
}

func (c *Custody) BurnReceipt(mint, from [20]byte, amount uint64) error {
	return c.Book.Burn(mint, from, amount)
}
