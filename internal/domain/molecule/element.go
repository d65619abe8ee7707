package molecule

// Element is a chemical element symbol in standard capitalisation ("C",
// "Cl", "Fe").  Only elements that occur in protein-ligand systems are
// tabulated; anything else is accepted but falls into CategoryOther.
type Element string

const (
	H  Element = "H"
	C  Element = "C"
	N  Element = "N"
	O  Element = "O"
	S  Element = "S"
	P  Element = "P"
	F  Element = "F"
	Cl Element = "Cl"
	Br Element = "Br"
	I  Element = "I"
	B  Element = "B"
	Na Element = "Na"
	K  Element = "K"
	Mg Element = "Mg"
	Ca Element = "Ca"
	Zn Element = "Zn"
	Fe Element = "Fe"
)

// Category groups elements for the map builder's compatibility relation.
// Category-level matching lets e.g. any halogen pair map while still
// refusing to morph carbon into oxygen.
type Category int

const (
	CategoryOther Category = iota
	CategoryHydrogen
	CategoryCarbon
	CategoryNitrogen
	CategoryOxygen
	CategorySulfur
	CategoryPhosphorus
	CategoryHalogen
	CategoryMetal
)

var elementCategory = map[Element]Category{
	H:  CategoryHydrogen,
	C:  CategoryCarbon,
	N:  CategoryNitrogen,
	O:  CategoryOxygen,
	S:  CategorySulfur,
	P:  CategoryPhosphorus,
	F:  CategoryHalogen,
	Cl: CategoryHalogen,
	Br: CategoryHalogen,
	I:  CategoryHalogen,
	Na: CategoryMetal,
	K:  CategoryMetal,
	Mg: CategoryMetal,
	Ca: CategoryMetal,
	Zn: CategoryMetal,
	Fe: CategoryMetal,
}

// Category returns the matching category for the element.
func (e Element) Category() Category {
	if c, ok := elementCategory[e]; ok {
		return c
	}
	return CategoryOther
}

// IsHeavy reports whether the element is anything other than hydrogen.
func (e Element) IsHeavy() bool {
	return e != H
}

// covalentRadius in Angstrom, used for distance-based bond perception when a
// structure file carries no CONECT records.  Values follow Cordero et al.
var covalentRadius = map[Element]float64{
	H:  0.31,
	C:  0.76,
	N:  0.71,
	O:  0.66,
	S:  1.05,
	P:  1.07,
	F:  0.57,
	Cl: 1.02,
	Br: 1.20,
	I:  1.39,
	B:  0.84,
	Na: 1.66,
	K:  2.03,
	Mg: 1.41,
	Ca: 1.76,
	Zn: 1.22,
	Fe: 1.32,
}

// CovalentRadius returns the tabulated covalent radius in Angstrom, or a
// conservative 1.5 for unknown elements.
func (e Element) CovalentRadius() float64 {
	if r, ok := covalentRadius[e]; ok {
		return r
	}
	return 1.5
}
