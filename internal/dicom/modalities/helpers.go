package modalities

// required declares a field that is always written, possibly empty.
func required(keyword string, values ...string) Field {
	return Field{Keyword: keyword, Values: values, Required: true}
}

// optional declares a field that is written only when it has a value.
func optional(keyword string, values ...string) Field {
	return Field{Keyword: keyword, Values: values}
}
